package protocol

import (
	"fmt"
	"sort"
)

// Kind identifies one message variant independent of protocol version.
type Kind uint8

const (
	KindHello Kind = iota + 1
	KindProjectHello
	KindDataHello
	KindDataHelloReply
	KindConfiguration
	KindConfigurationText
	KindError
	KindStart
	KindStop
	KindPause
	KindUnpause
	KindSuspend
	KindUnsuspend
	KindHeartbeat
	KindDataBreak
	KindClassTransformed
	KindClassTransformFailed
	KindClassIgnored
	KindMapThreadName
	KindMapMethodSignature
	KindMapException
	KindMethodEntry
	KindMethodExit
	KindMapSourceLocation
	KindMethodVisit
	KindSourceLocationCount
)

// Tag bytes. Values are a cross-version wire contract; never renumber.
const (
	TagHello                byte = 0
	TagConfiguration        byte = 1
	TagStart                byte = 2
	TagStop                 byte = 3
	TagPause                byte = 4
	TagUnpause              byte = 5
	TagSuspend              byte = 6
	TagUnsuspend            byte = 7
	TagHeartbeat            byte = 8
	TagDataBreak            byte = 9
	TagMapThreadName        byte = 10
	TagMapMethodSignature   byte = 11
	TagMapException         byte = 12
	TagMethodEntry          byte = 20
	TagMethodExit           byte = 21
	TagDataHello            byte = 30
	TagDataHelloReply       byte = 31
	TagClassTransformed     byte = 40
	TagClassIgnored         byte = 41
	TagClassTransformFailed byte = 42
	TagProjectHello         byte = 50
	TagConfigurationText    byte = 51
	TagMapSourceLocation    byte = 52
	TagMethodVisit          byte = 53
	TagSourceLocationCount  byte = 54
	TagError                byte = 99
)

type kindInfo struct {
	tag  byte
	name string
}

var kinds = map[Kind]kindInfo{
	KindHello:                {TagHello, "hello"},
	KindProjectHello:         {TagProjectHello, "project_hello"},
	KindDataHello:            {TagDataHello, "data_hello"},
	KindDataHelloReply:       {TagDataHelloReply, "data_hello_reply"},
	KindConfiguration:        {TagConfiguration, "configuration"},
	KindConfigurationText:    {TagConfigurationText, "configuration_text"},
	KindError:                {TagError, "error"},
	KindStart:                {TagStart, "start"},
	KindStop:                 {TagStop, "stop"},
	KindPause:                {TagPause, "pause"},
	KindUnpause:              {TagUnpause, "unpause"},
	KindSuspend:              {TagSuspend, "suspend"},
	KindUnsuspend:            {TagUnsuspend, "unsuspend"},
	KindHeartbeat:            {TagHeartbeat, "heartbeat"},
	KindDataBreak:            {TagDataBreak, "data_break"},
	KindClassTransformed:     {TagClassTransformed, "class_transformed"},
	KindClassTransformFailed: {TagClassTransformFailed, "class_transform_failed"},
	KindClassIgnored:         {TagClassIgnored, "class_ignored"},
	KindMapThreadName:        {TagMapThreadName, "map_thread_name"},
	KindMapMethodSignature:   {TagMapMethodSignature, "map_method_signature"},
	KindMapException:         {TagMapException, "map_exception"},
	KindMethodEntry:          {TagMethodEntry, "method_entry"},
	KindMethodExit:           {TagMethodExit, "method_exit"},
	KindMapSourceLocation:    {TagMapSourceLocation, "map_source_location"},
	KindMethodVisit:          {TagMethodVisit, "method_visit"},
	KindSourceLocationCount:  {TagSourceLocationCount, "source_location_count"},
}

var kindsByTag = func() map[byte]Kind {
	out := make(map[byte]Kind, len(kinds))
	for k, info := range kinds {
		out[info.tag] = k
	}
	return out
}()

// Tag returns the wire tag for k.
func (k Kind) Tag() byte {
	return kinds[k].tag
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// KindForTag maps a tag byte back to its Kind.
func KindForTag(tag byte) (Kind, bool) {
	k, ok := kindsByTag[tag]
	return k, ok
}

// AllKinds returns every known Kind ordered by value.
func AllKinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Version is the capability table for one protocol version.
type Version struct {
	number    uint8
	supported map[Kind]bool
}

// NewVersion builds a capability table supporting exactly the given kinds.
func NewVersion(number uint8, supported ...Kind) Version {
	v := Version{number: number, supported: make(map[Kind]bool, len(supported))}
	for _, k := range supported {
		v.supported[k] = true
	}
	return v
}

func (v Version) Number() uint8 {
	return v.number
}

// Supports reports whether messages of kind k are legal under v.
func (v Version) Supports(k Kind) bool {
	return v.supported[k]
}

// Kinds lists the supported kinds ordered by value.
func (v Version) Kinds() []Kind {
	out := make([]Kind, 0, len(v.supported))
	for _, k := range AllKinds() {
		if v.supported[k] {
			out = append(out, k)
		}
	}
	return out
}

func (v Version) String() string {
	return fmt.Sprintf("v%d", v.number)
}

// V1 is protocol version 1. Project hellos, textual configuration and
// source-location messages are reserved for later versions.
var V1 = NewVersion(1,
	KindHello,
	KindDataHello,
	KindDataHelloReply,
	KindConfiguration,
	KindError,
	KindStart,
	KindStop,
	KindPause,
	KindUnpause,
	KindSuspend,
	KindUnsuspend,
	KindHeartbeat,
	KindDataBreak,
	KindClassTransformed,
	KindClassTransformFailed,
	KindClassIgnored,
	KindMapThreadName,
	KindMapMethodSignature,
	KindMapException,
	KindMethodEntry,
	KindMethodExit,
)

// CurrentVersion is the newest version this build speaks.
var CurrentVersion = V1

var versions = map[uint8]Version{
	V1.number: V1,
}

// LookupVersion returns the registered capability table for number.
func LookupVersion(number uint8) (Version, error) {
	v, ok := versions[number]
	if !ok {
		return Version{}, fmt.Errorf("%w: %d", ErrUnknownVersion, number)
	}
	return v, nil
}
