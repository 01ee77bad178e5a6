package packet

// Protocol versions. A client announcing less than MinProtocolVersion
// is refused; one announcing less than AuthProtocolVersion takes the
// legacy name-only login path.
const (
	MinProtocolVersion    uint16 = 1
	AuthProtocolVersion   uint16 = 2
	LatestProtocolVersion uint16 = 2
)

// Client → server opcodes.
const (
	C_OPCODE_INIT           uint16 = 0x02
	C_OPCODE_AUTH           uint16 = 0x03
	C_OPCODE_FIRST_AUTH     uint16 = 0x04
	C_OPCODE_INIT2          uint16 = 0x10
	C_OPCODE_CLIENT_READY   uint16 = 0x11
	C_OPCODE_PLAYER_POS     uint16 = 0x20
	C_OPCODE_INTERACT       uint16 = 0x21
	C_OPCODE_GOT_BLOCKS     uint16 = 0x30
	C_OPCODE_DELETED_BLOCKS uint16 = 0x31
	C_OPCODE_AUTOSEND       uint16 = 0x32
	C_OPCODE_SEND_QUEUE     uint16 = 0x33
	C_OPCODE_SUDO           uint16 = 0x38
	C_OPCODE_SET_PASSWORD   uint16 = 0x39
	C_OPCODE_DISCONNECT     uint16 = 0x40
)

// Server → client opcodes.
const (
	S_OPCODE_HELLO         uint16 = 0x02
	S_OPCODE_AUTH_ACCEPT   uint16 = 0x03
	S_OPCODE_ACCESS_DENIED uint16 = 0x0A
	S_OPCODE_DEFINITIONS   uint16 = 0x10
	S_OPCODE_MOVE_PLAYER   uint16 = 0x11
	S_OPCODE_BLOCK_DATA    uint16 = 0x20
	S_OPCODE_FAR_BLOCKS    uint16 = 0x21
	S_OPCODE_PLAYER_LIST   uint16 = 0x30
	S_OPCODE_ACCEPT_SUDO   uint16 = 0x38
)

// Access denial reasons carried in S_OPCODE_ACCESS_DENIED.
const (
	DenyWrongPassword uint8 = iota
	DenyUnsupportedVersion
	DenyBadName
	DenyBanned
	DenyServerError
)
