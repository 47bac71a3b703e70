//go:build !linux

package device

// Device is unavailable on this platform.
type Device struct{}

// Open always fails outside Linux.
func Open(Config) (*Device, error) {
	return nil, ErrUnsupported
}

func (*Device) Read([]byte) (int, error)  { return 0, ErrUnsupported }
func (*Device) Write([]byte) (int, error) { return 0, ErrUnsupported }
func (*Device) Close() error              { return nil }
func (*Device) Name() string              { return "" }
func (*Device) Bridge() string            { return "" }

// Links is unavailable on this platform.
type Links struct{}

func (Links) SetMTU(string, int) error { return ErrUnsupported }
