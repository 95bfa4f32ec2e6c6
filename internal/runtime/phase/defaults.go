package phase

// Standard phase names. Inbound traversals decode and dispatch a message,
// outbound traversals encode and send one.
const (
	Receive      = "receive"
	PreStream    = "pre-stream"
	UserStream   = "user-stream"
	PostStream   = "post-stream"
	Read         = "read"
	PreProtocol  = "pre-protocol"
	UserProtocol = "user-protocol"
	PostProtocol = "post-protocol"
	Unmarshal    = "unmarshal"
	PreLogical   = "pre-logical"
	UserLogical  = "user-logical"
	PostLogical  = "post-logical"
	PreInvoke    = "pre-invoke"
	Invoke       = "invoke"
	PostInvoke   = "post-invoke"
	Setup        = "setup"
	PrepareSend  = "prepare-send"
	Write        = "write"
	Marshal      = "marshal"
	Send         = "send"

	SetupEnding = Setup + endingSuffix
	SendEnding  = Send + endingSuffix
)

const endingSuffix = "-ending"

var inboundOrder = []string{
	Receive, PreStream, UserStream, PostStream, Read,
	PreProtocol, UserProtocol, PostProtocol, Unmarshal,
	PreLogical, UserLogical, PostLogical,
	PreInvoke, Invoke, PostInvoke,
}

var outboundOrder = []string{
	Setup, PreLogical, UserLogical, PostLogical, PrepareSend,
	PreStream, PreProtocol, Write, Marshal, UserProtocol,
	PostProtocol, UserStream, PostStream, Send,
}

// EndingOf returns the ending phase paired with an outbound phase name.
func EndingOf(name string) string {
	return name + endingSuffix
}

// Manager holds the registries of both directions.
type Manager struct {
	In  *Registry
	Out *Registry
}

// Registry returns the registry for dir.
func (m *Manager) Registry(dir Direction) *Registry {
	if dir == Outbound {
		return m.Out
	}
	return m.In
}

// DefaultManager builds the standard phase layout. Outbound endings mirror the
// outbound phases in reverse, so the counterpart of the last unit to run is
// the first ending to run.
func DefaultManager() *Manager {
	in := NewBuilder(Inbound)
	for i, name := range inboundOrder {
		in.Register(name, (i+1)*1000)
	}

	out := NewBuilder(Outbound)
	for i, name := range outboundOrder {
		out.Register(name, (i+1)*1000)
	}
	for i := len(outboundOrder) - 1; i >= 0; i-- {
		out.RegisterEnding(EndingOf(outboundOrder[i]), (len(outboundOrder)-i)*1000)
	}

	inReg, err := in.Build()
	if err != nil {
		panic(err)
	}
	outReg, err := out.Build()
	if err != nil {
		panic(err)
	}
	return &Manager{In: inReg, Out: outReg}
}
