package client

type PromptMessage struct {
	Type    string
	Message interface{}
}

// our cast of characters:
// started
// executing
// progress
// data
// error
// stopped

type PromptMessageStarted struct {
	PromptID string `json:"prompt_id"`
}

func (p *PromptMessage) ToPromptMessageStarted() *PromptMessageStarted {
	return p.Message.(*PromptMessageStarted)
}

type PromptMessageExecuting struct {
	NodeID string
	Title  string
}

func (p *PromptMessage) ToPromptMessageExecuting() *PromptMessageExecuting {
	return p.Message.(*PromptMessageExecuting)
}

type PromptMessageProgress struct {
	NodeID string
	Max    int
	Value  int
}

func (p *PromptMessage) ToPromptMessageProgress() *PromptMessageProgress {
	return p.Message.(*PromptMessageProgress)
}

type PromptMessageData struct {
	NodeID string
	Data   map[string][]DataOutput
}

func (p *PromptMessage) ToPromptMessageData() *PromptMessageData {
	return p.Message.(*PromptMessageData)
}

// PromptMessageStopped is sent once, when the server signals the prompt is done.
// Exceptions holds every execution error reported before that signal.
type PromptMessageStopped struct {
	QueueItem  *QueueItem
	Exceptions []*PromptMessageStoppedException
}

type PromptMessageStoppedException struct {
	NodeID           string
	NodeType         string
	ExceptionMessage string
	ExceptionType    string
	Traceback        []string
}

func (p *PromptMessage) ToPromptMessageStopped() *PromptMessageStopped {
	return p.Message.(*PromptMessageStopped)
}

func (p *PromptMessage) ToPromptMessageStoppedException() *PromptMessageStoppedException {
	return p.Message.(*PromptMessageStoppedException)
}
