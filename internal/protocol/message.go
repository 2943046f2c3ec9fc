package protocol

// Message is one protocol message. Each kind has exactly one concrete type.
// Messages are plain values; decoding always yields values, and encoding
// accepts a pointer to one as well.
type Message interface {
	Kind() Kind
}

// Hello opens a control connection without project scoping.
type Hello struct {
	Version uint8
}

// ProjectHello opens a control connection scoped to a project.
type ProjectHello struct {
	Version   uint8
	ProjectID int32
}

// DataHello opens a data connection for a run.
type DataHello struct {
	RunID int8
}

type DataHelloReply struct{}

// Configuration carries the encoded runtime configuration.
type Configuration struct {
	Payload []byte
}

// ConfigurationText is the textual configuration variant.
type ConfigurationText struct {
	Text string
}

type Error struct {
	Message string
}

type Start struct{}
type Stop struct{}
type Pause struct{}
type Unpause struct{}
type Suspend struct{}
type Unsuspend struct{}

type Heartbeat struct {
	Mode           AgentOperationMode
	SendBufferSize int16
}

type DataBreak struct {
	SequenceID int32
}

type ClassTransformed struct {
	ClassName string
}

type ClassTransformFailed struct {
	ClassName string
}

type ClassIgnored struct {
	ClassName string
}

type MapThreadName struct {
	ThreadID int16
	RelTime  int32
	Name     string
}

type MapMethodSignature struct {
	SignatureID int32
	Signature   string
}

type MapException struct {
	ExceptionID int32
	Exception   string
}

type MethodEntry struct {
	RelTime     int32
	Sequence    int32
	SignatureID int32
	ThreadID    int16
}

type MethodExit struct {
	RelTime         int32
	Sequence        int32
	SignatureID     int32
	ExceptionThrown bool
	ThreadID        int16
}

type MapSourceLocation struct {
	SourceLocationID int32
	SignatureID      int32
	StartLine        int32
	EndLine          int32
	StartCharacter   int16
	EndCharacter     int16
}

type MethodVisit struct {
	RelTime          int32
	Sequence         int32
	SignatureID      int32
	SourceLocationID int32
	ThreadID         int16
}

type SourceLocationCount struct {
	SignatureID int32
	Count       int32
}

func (Hello) Kind() Kind                { return KindHello }
func (ProjectHello) Kind() Kind         { return KindProjectHello }
func (DataHello) Kind() Kind            { return KindDataHello }
func (DataHelloReply) Kind() Kind       { return KindDataHelloReply }
func (Configuration) Kind() Kind        { return KindConfiguration }
func (ConfigurationText) Kind() Kind    { return KindConfigurationText }
func (Error) Kind() Kind                { return KindError }
func (Start) Kind() Kind                { return KindStart }
func (Stop) Kind() Kind                 { return KindStop }
func (Pause) Kind() Kind                { return KindPause }
func (Unpause) Kind() Kind              { return KindUnpause }
func (Suspend) Kind() Kind              { return KindSuspend }
func (Unsuspend) Kind() Kind            { return KindUnsuspend }
func (Heartbeat) Kind() Kind            { return KindHeartbeat }
func (DataBreak) Kind() Kind            { return KindDataBreak }
func (ClassTransformed) Kind() Kind     { return KindClassTransformed }
func (ClassTransformFailed) Kind() Kind { return KindClassTransformFailed }
func (ClassIgnored) Kind() Kind         { return KindClassIgnored }
func (MapThreadName) Kind() Kind        { return KindMapThreadName }
func (MapMethodSignature) Kind() Kind   { return KindMapMethodSignature }
func (MapException) Kind() Kind         { return KindMapException }
func (MethodEntry) Kind() Kind          { return KindMethodEntry }
func (MethodExit) Kind() Kind           { return KindMethodExit }
func (MapSourceLocation) Kind() Kind    { return KindMapSourceLocation }
func (MethodVisit) Kind() Kind          { return KindMethodVisit }
func (SourceLocationCount) Kind() Kind  { return KindSourceLocationCount }
