// Package schema defines the wire-level messages of the node's capability
// IPC protocol: the frame envelope types and the per-method parameter and
// result records. Payloads are cramberry-encoded; frames carry a type ID
// prefix followed by the marshaled message.
package schema

import (
	"github.com/blockberries/cramberry/pkg/cramberry"
)

// Protocol constants exchanged during the hello handshake.
const (
	// ProtocolMagic identifies the talkberry capability protocol ("BTK1").
	ProtocolMagic uint32 = 0x42544b31

	// ProtocolVersion is the protocol version spoken by this library.
	ProtocolVersion int32 = 1
)

// Frame envelope type IDs.
const (
	TypeIDHello    cramberry.TypeID = 1
	TypeIDHelloAck cramberry.TypeID = 2
	TypeIDCall     cramberry.TypeID = 3
	TypeIDReturn   cramberry.TypeID = 4
)

// Return status codes.
const (
	CodeOK          int32 = 0
	CodeNotFound    int32 = 1
	CodeUnsupported int32 = 2
	CodeRejected    int32 = 3
	CodeBadRequest  int32 = 4
	CodeInternal    int32 = 5
)

// Interface kinds resolvable from the root capability.
const (
	KindChain         = "chain"
	KindMempool       = "mempool"
	KindBlockTemplate = "blocktemplate"
)

// Method names by interface.
const (
	// root
	MethodResolve = "resolve"

	// chain
	MethodGetTip              = "getTip"
	MethodGetBlock            = "getBlock"
	MethodGetBlockAtHeight    = "getBlockAtHeight"
	MethodFindCommonAncestor  = "findCommonAncestor"
	MethodIsInBestChain       = "isInBestChain"
	MethodIsSynced            = "isSynced"
	MethodHandleNotifications = "handleNotifications"
	MethodStopNotifications   = "stopNotifications"

	// mempool
	MethodMempoolEntry       = "entry"
	MethodMempoolAncestors   = "ancestors"
	MethodMempoolDescendants = "descendants"
	MethodMempoolContains    = "contains"
	MethodBroadcast          = "broadcast"

	// blocktemplate
	MethodGetTemplate = "getTemplate"

	// callback capability exported by the client
	MethodBlockConnected     = "blockConnected"
	MethodBlockDisconnected  = "blockDisconnected"
	MethodTransactionAdded   = "transactionAdded"
	MethodTransactionRemoved = "transactionRemoved"
	MethodChainStateUpdated  = "chainStateUpdated"
)

// Hello opens the handshake; the client sends it first.
type Hello struct {
	Magic   uint32
	Version int32
}

// HelloAck completes the handshake and carries the root capability id.
type HelloAck struct {
	Magic   uint32
	Version int32
	Root    uint64
}

// Call is a request against the capability identified by Target.
// The node also sends Calls to the client against exported callback
// capabilities; those are the push notifications.
type Call struct {
	Seq    uint64
	Target uint64
	Method string
	Params []byte
}

// Return is the response to a Call with the same Seq. Code is CodeOK on
// success; Message is only set for failures.
type Return struct {
	Seq     uint64
	Code    int32
	Message string
	Payload []byte
}

// EncodeMessage encodes a message with its type ID prefix.
func EncodeMessage(typeID cramberry.TypeID, msg any) ([]byte, error) {
	data, err := cramberry.Marshal(msg)
	if err != nil {
		return nil, err
	}

	w := cramberry.GetWriter()
	defer cramberry.PutWriter(w)

	w.WriteTypeID(typeID)
	w.WriteRawBytes(data)

	if w.Err() != nil {
		return nil, w.Err()
	}

	return w.BytesCopy(), nil
}

// DecodeMessage splits an encoded message into its type ID and the
// remaining marshaled payload.
func DecodeMessage(data []byte) (cramberry.TypeID, []byte, error) {
	reader := cramberry.NewReader(data)
	typeID := reader.ReadTypeID()
	if err := reader.Err(); err != nil {
		return 0, nil, err
	}
	return typeID, reader.Remaining(), nil
}
