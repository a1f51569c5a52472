package frame

// InterpretResponse checks that f is a resp frame reporting status okay.
func InterpretResponse(f *Frame) error {
	if f.Cmd != CmdResponse {
		return UnexpectedFrameError{Got: f.Cmd, Want: CmdResponse}
	}
	status, ok := f.HeaderString(HeaderStatus)
	if !ok {
		return MissingHeaderError{Cmd: f.Cmd, Key: HeaderStatus}
	}
	if status != StatusOkay {
		reason, _ := f.HeaderString(HeaderReason)
		return ResponseStatusError{Status: status, Reason: reason}
	}
	return nil
}
