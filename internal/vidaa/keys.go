package vidaa

import "strings"

// Remote key codes understood by the sendkey action, recovered from the
// vendor app (libmqttcrypt.so, SdkMqttPublishManager).
const (
	KeyPower = "KEY_POWER"

	KeyUp          = "KEY_UP"
	KeyDown        = "KEY_DOWN"
	KeyLeft        = "KEY_LEFT"
	KeyRight       = "KEY_RIGHT"
	KeyOK          = "KEY_OK"
	KeyOKLongPress = "KEY_OK_LONG_PRESS"

	KeyMenu    = "KEY_MENU"
	KeyReturns = "KEY_RETURNS"
	KeyExit    = "KEY_EXIT"
	KeyHome    = "KEY_HOME"

	KeyVolumeUp      = "KEY_VOLUMEUP"
	KeyVolumeDown    = "KEY_VOLUMEDOWN"
	KeyMute          = "KEY_MUTE"
	KeyMuteLongPress = "KEY_MUTE_LONG_PRESS"

	KeyVoiceUp   = "KEY_VOICEUP"
	KeyVoiceDown = "KEY_VOICEDOWN"

	KeyPlay        = "KEY_PLAY"
	KeyPause       = "KEY_PAUSE"
	KeyStop        = "KEY_STOP"
	KeyFastForward = "KEY_FORWARDS"
	// The firmware reuses KEY_BACK for rewind; "back" navigation is
	// KEY_RETURNS.
	KeyRewind = "KEY_BACK"

	Key0 = "KEY_0"
	Key1 = "KEY_1"
	Key2 = "KEY_2"
	Key3 = "KEY_3"
	Key4 = "KEY_4"
	Key5 = "KEY_5"
	Key6 = "KEY_6"
	Key7 = "KEY_7"
	Key8 = "KEY_8"
	Key9 = "KEY_9"

	KeyChannelUp   = "KEY_CHANNELUP"
	KeyChannelDown = "KEY_CHANNELDOWN"
	KeyChannelDot  = "KEY_CHANNELDOT"

	KeyRed    = "KEY_RED"
	KeyGreen  = "KEY_GREEN"
	KeyYellow = "KEY_YELLOW"
	KeyBlue   = "KEY_BLUE"

	KeySubtitle = "KEY_SUBTITLE"
	KeyInfo     = "KEY_INFO"

	KeyLeftMouse    = "KEY_LEFTMOUSEKEYS"
	KeyUDDLeftMouse = "KEY_UDDLEFTMOUSEKEYS"
	KeyUDULeftMouse = "KEY_UDULEFTMOUSEKEYS"
	KeyZoomIn       = "KEY_ZOOMIN"
	KeyZoomOut      = "KEY_ZOOMOUT"
)

// AllKeys lists every known key code.
var AllKeys = []string{
	KeyPower,
	KeyUp, KeyDown, KeyLeft, KeyRight, KeyOK, KeyOKLongPress,
	KeyMenu, KeyReturns, KeyExit, KeyHome,
	KeyVolumeUp, KeyVolumeDown, KeyMute, KeyMuteLongPress,
	KeyVoiceUp, KeyVoiceDown,
	KeyPlay, KeyPause, KeyStop, KeyFastForward, KeyRewind,
	Key0, Key1, Key2, Key3, Key4, Key5, Key6, Key7, Key8, Key9,
	KeyChannelUp, KeyChannelDown, KeyChannelDot,
	KeyRed, KeyGreen, KeyYellow, KeyBlue,
	KeySubtitle, KeyInfo,
	KeyLeftMouse, KeyUDDLeftMouse, KeyUDULeftMouse, KeyZoomIn, KeyZoomOut,
}

// keyNames maps friendly names and CLI aliases to key codes.
var keyNames = map[string]string{
	"power":       KeyPower,
	"up":          KeyUp,
	"down":        KeyDown,
	"left":        KeyLeft,
	"right":       KeyRight,
	"ok":          KeyOK,
	"enter":       KeyOK,
	"select":      KeyOK,
	"ok_long":     KeyOKLongPress,
	"menu":        KeyMenu,
	"back":        KeyReturns,
	"return":      KeyReturns,
	"exit":        KeyExit,
	"home":        KeyHome,
	"volumeup":    KeyVolumeUp,
	"volup":       KeyVolumeUp,
	"vol+":        KeyVolumeUp,
	"volumedown":  KeyVolumeDown,
	"voldown":     KeyVolumeDown,
	"vol-":        KeyVolumeDown,
	"mute":        KeyMute,
	"mute_long":   KeyMuteLongPress,
	"voiceup":     KeyVoiceUp,
	"voicedown":   KeyVoiceDown,
	"play":        KeyPlay,
	"pause":       KeyPause,
	"stop":        KeyStop,
	"forward":     KeyFastForward,
	"ff":          KeyFastForward,
	"rewind":      KeyRewind,
	"rw":          KeyRewind,
	"0":           Key0,
	"1":           Key1,
	"2":           Key2,
	"3":           Key3,
	"4":           Key4,
	"5":           Key5,
	"6":           Key6,
	"7":           Key7,
	"8":           Key8,
	"9":           Key9,
	"channelup":   KeyChannelUp,
	"chup":        KeyChannelUp,
	"ch+":         KeyChannelUp,
	"channeldown": KeyChannelDown,
	"chdown":      KeyChannelDown,
	"ch-":         KeyChannelDown,
	"channeldot":  KeyChannelDot,
	"dot":         KeyChannelDot,
	"red":         KeyRed,
	"green":       KeyGreen,
	"yellow":      KeyYellow,
	"blue":        KeyBlue,
	"subtitle":    KeySubtitle,
	"sub":         KeySubtitle,
	"info":        KeyInfo,
	"zoomin":      KeyZoomIn,
	"zoom+":       KeyZoomIn,
	"zoomout":     KeyZoomOut,
	"zoom-":       KeyZoomOut,
	"mouse":       KeyLeftMouse,
}

var knownKeys = func() map[string]bool {
	m := make(map[string]bool, len(AllKeys))
	for _, k := range AllKeys {
		m[k] = true
	}
	return m
}()

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// KeyFromName resolves a friendly key name ("up", "vol+", "back") to its
// key code. Inputs already in KEY_ form pass through; anything else is
// upper-cased and prefixed, so future firmware keys stay reachable.
func KeyFromName(name string) string {
	if code, ok := keyNames[normalizeName(name)]; ok {
		return code
	}
	prefixed := "KEY_" + strings.ToUpper(strings.TrimSpace(name))
	if knownKeys[prefixed] {
		return prefixed
	}
	if strings.HasPrefix(name, "KEY_") {
		return name
	}
	return prefixed
}
