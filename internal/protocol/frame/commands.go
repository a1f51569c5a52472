package frame

// Command tags understood by the agent. The dispatch engine only inspects
// seqno, finished and status; the rest matter to the request builders.
const (
	CmdHello          = "helo"
	CmdPublish        = "publ"
	CmdPersist        = "pers"
	CmdSubscribe      = "subs"
	CmdQuery          = "quer"
	CmdList           = "list"
	CmdSetEntity      = "sete"
	CmdMakeEntity     = "make"
	CmdMakeDOT        = "makd"
	CmdMakeChain      = "mkdc"
	CmdBuildChain     = "bldc"
	CmdResponse       = "resp"
	CmdResult         = "rslt"
	CmdTapSubscribe   = "tsub"
	CmdTapQuery       = "tque"
	CmdPutDOT         = "putd"
	CmdPutEntity      = "pute"
	CmdPutChain       = "putc"
	CmdResolveAlias   = "resa"
	CmdMakeShortAlias = "mksa"
	CmdMakeLongAlias  = "mkla"
)

// Well-known header keys.
const (
	HeaderStatus   = "status"
	HeaderReason   = "reason"
	HeaderFinished = "finished"
	HeaderVersion  = "version"
)

const (
	StatusOkay = "okay"
)
