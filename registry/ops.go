package registry

import "github.com/pkg/errors"

// RegisterDevice is the capability a handle must resolve to for the
// register operations below. device.SPIDevice implements it.
type RegisterDevice interface {
	Object
	ReadRegister(addr byte) (byte, error)
	WriteRegister(addr, value byte) error
	WriteRegisters(addr byte, payload []byte) error
	WriteRegisterVerified(addr, value byte) error
	BulkRead(addr byte, length int) ([]byte, error)
	ModifyRegister(addr, clearMask, setMask byte) error
	Transfer(w, r []byte, length int) error
	SetBusFrequency(hz int64) error
	SetLoopbackMode(enable bool) error
}

func (r *Registry) device(h Handle) (RegisterDevice, error) {
	dev, ok := Resolve[RegisterDevice](r, h)
	if !ok {
		return nil, errors.Wrapf(ErrHandleNotFound, "handle %s", h)
	}
	return dev, nil
}

func (r *Registry) object(h Handle) (Object, error) {
	obj, ok := Resolve[Object](r, h)
	if !ok {
		return nil, errors.Wrapf(ErrHandleNotFound, "handle %s", h)
	}
	return obj, nil
}

// Start starts the object behind h.
func (r *Registry) Start(h Handle) error {
	obj, err := r.object(h)
	if err != nil {
		return err
	}
	return obj.Start()
}

// Stop stops the object behind h.
func (r *Registry) Stop(h Handle) error {
	obj, err := r.object(h)
	if err != nil {
		return err
	}
	return obj.Stop()
}

func (r *Registry) ReadRegister(h Handle, addr byte) (byte, error) {
	dev, err := r.device(h)
	if err != nil {
		return 0, err
	}
	return dev.ReadRegister(addr)
}

func (r *Registry) WriteRegister(h Handle, addr, value byte) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.WriteRegister(addr, value)
}

func (r *Registry) WriteRegisters(h Handle, addr byte, payload []byte) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.WriteRegisters(addr, payload)
}

func (r *Registry) WriteRegisterVerified(h Handle, addr, value byte) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.WriteRegisterVerified(addr, value)
}

func (r *Registry) BulkRead(h Handle, addr byte, length int) ([]byte, error) {
	dev, err := r.device(h)
	if err != nil {
		return nil, err
	}
	return dev.BulkRead(addr, length)
}

func (r *Registry) ModifyRegister(h Handle, addr, clearMask, setMask byte) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.ModifyRegister(addr, clearMask, setMask)
}

func (r *Registry) Transfer(h Handle, w, rd []byte, length int) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.Transfer(w, rd, length)
}

func (r *Registry) SetBusFrequency(h Handle, hz int64) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.SetBusFrequency(hz)
}

// SetLoopbackMode fails for every handle. Valid handles report the
// device's unsupported-operation error, others report not found.
func (r *Registry) SetLoopbackMode(h Handle, enable bool) error {
	dev, err := r.device(h)
	if err != nil {
		return err
	}
	return dev.SetLoopbackMode(enable)
}
