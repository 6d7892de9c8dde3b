package chat

// Kind is the closed set of message kinds the pipeline distinguishes.
type Kind int

const (
	KindUnknown Kind = iota
	KindText
	KindAudio
	KindVoice
	KindImage
	KindVideo
	KindDocument
	KindSticker
	KindLocation
	KindContact
	KindRevoked
	KindNotification
)

var kindByTag = map[string]Kind{
	"chat":                  KindText,
	"text":                  KindText,
	"ciphertext":            KindText,
	"audio":                 KindAudio,
	"ptt":                   KindVoice,
	"voice":                 KindVoice,
	"image":                 KindImage,
	"video":                 KindVideo,
	"document":              KindDocument,
	"sticker":               KindSticker,
	"location":              KindLocation,
	"vcard":                 KindContact,
	"multi_vcard":           KindContact,
	"contact_card":          KindContact,
	"revoked":               KindRevoked,
	"e2e_notification":      KindNotification,
	"gp2":                   KindNotification,
	"notification_template": KindNotification,
}

// ParseKind maps a chat-client type tag to a Kind. Unrecognized tags map to
// KindUnknown.
func ParseKind(tag string) Kind {
	return kindByTag[tag]
}

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAudio:
		return "audio"
	case KindVoice:
		return "voice"
	case KindImage:
		return "image"
	case KindVideo:
		return "video"
	case KindDocument:
		return "document"
	case KindSticker:
		return "sticker"
	case KindLocation:
		return "location"
	case KindContact:
		return "contact"
	case KindRevoked:
		return "revoked"
	case KindNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// IsSpoken reports whether a tag denotes recorded speech.
func IsSpoken(tag string) bool {
	switch tag {
	case "voice", "audio", "ptt":
		return true
	}
	return false
}
