package rpc

import "fmt"

// SpeakClient adapts a Client to the mount package's line transport: the
// bridge's "speak" method round-trips one raw protocol line to the
// device.
type SpeakClient struct {
	Client *Client
}

// Speak sends one protocol command through the bridge.
func (s *SpeakClient) Speak(command string) (string, error) {
	result, err := s.Client.Call("speak", command)
	if err != nil {
		return "", err
	}
	text, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("rpc: speak returned %T, want string", result)
	}
	return text, nil
}

// Close closes the underlying RPC transport.
func (s *SpeakClient) Close() error { return s.Client.Close() }
