//go:build !govips || !cgo

package codec

func Startup() error {
	return nil
}

func Shutdown() {}

func newEncoder() (Encoder, error) {
	return stdlibEncoder{}, nil
}
