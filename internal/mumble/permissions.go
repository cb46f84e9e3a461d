package mumble

// Channel permission bits, as advertised in PermissionQuery and ServerSync.
// The server advertises a default mask; it does not enforce ACLs.
const (
	PermNone     uint32 = 0x0
	PermWrite    uint32 = 0x1
	PermTraverse uint32 = 0x2
	PermEnter    uint32 = 0x4
	PermSpeak    uint32 = 0x8

	PermMuteDeafen  uint32 = 0x10
	PermMove        uint32 = 0x20
	PermMakeChannel uint32 = 0x40
	PermLinkChannel uint32 = 0x80

	PermWhisper         uint32 = 0x100
	PermTextMessage     uint32 = 0x200
	PermMakeTempChannel uint32 = 0x400
	PermListen          uint32 = 0x800

	// Root channel only.
	PermKick         uint32 = 0x10000
	PermBan          uint32 = 0x20000
	PermRegister     uint32 = 0x40000
	PermSelfRegister uint32 = 0x80000
)

// DefaultPermissions is the bitmask advertised to every session.
func DefaultPermissions() uint32 {
	return PermTraverse | PermEnter | PermSpeak | PermListen | PermTextMessage | PermWhisper
}
