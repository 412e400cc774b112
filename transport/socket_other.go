//go:build !linux && !darwin

package transport

// Socket 在不支持的平台上只是占位，保证编译通过。
type Socket struct{}

// NewSocket 在非 linux/darwin 平台返回 ErrPlatformNotSupported。
func NewSocket() (*Socket, error) { return nil, ErrPlatformNotSupported }

func (s *Socket) Listen(Address) (Handle, error) { return InvalidHandle, ErrPlatformNotSupported }
func (s *Socket) Connect(Address) (Handle, error) {
	return InvalidHandle, ErrPlatformNotSupported
}
func (s *Socket) Accept(Handle) (Handle, Address, error) {
	return InvalidHandle, Address{}, ErrPlatformNotSupported
}
func (s *Socket) Read(Handle, []byte) (int, error)          { return 0, ErrPlatformNotSupported }
func (s *Socket) Write(Handle, []byte) (int, error)         { return 0, ErrPlatformNotSupported }
func (s *Socket) PendingError(Handle) error                 { return ErrPlatformNotSupported }
func (s *Socket) PeerAddress(Handle) (Address, error)       { return Address{}, ErrPlatformNotSupported }
func (s *Socket) LocalAddress(Handle) (Address, error)      { return Address{}, ErrPlatformNotSupported }
func (s *Socket) Poll([]Handle, []Handle, *Readiness) error { return ErrPlatformNotSupported }
func (s *Socket) Close(Handle) error                        { return ErrPlatformNotSupported }
func (s *Socket) Shutdown() error                           { return nil }
