package ble

// command is the closed set the main loop accepts from Core's public API
// methods (§4.1's "Command" stream). Like Event, modeled with a private
// marker method rather than a tagged struct.
type command interface {
	isCommand()
}

type sendCommand struct {
	req    SendMessageRequest
	result chan<- SendResult
}

type infoResult struct {
	info InfoResponse
	err  error
}

type infoCommand struct {
	result chan<- infoResult
}

func (sendCommand) isCommand() {}
func (infoCommand) isCommand() {}
