package vidaa

import "strings"

// DefaultPort is the MQTT broker port the TV firmware listens on.
const DefaultPort = 36669

// Command topics, published to the TV. The %s slot takes the session's
// client identity.
const (
	topicSendKey       = "/remoteapp/tv/remote_service/%s/actions/sendkey"
	topicAuth          = "/remoteapp/tv/ui_service/%s/actions/authenticationcode"
	topicAuthClose     = "/remoteapp/tv/ui_service/%s/actions/authenticationcodeclose"
	topicAppConnect    = "/remoteapp/tv/ui_service/%s/actions/vidaa_app_connect"
	topicGetToken      = "/remoteapp/tv/platform_service/%s/data/gettoken"
	topicGetState      = "/remoteapp/tv/ui_service/%s/actions/gettvstate"
	topicGetVolume     = "/remoteapp/tv/platform_service/%s/actions/getvolume"
	topicSetVolume     = "/remoteapp/tv/platform_service/%s/actions/changevolume"
	topicGetSources    = "/remoteapp/tv/ui_service/%s/actions/sourcelist"
	topicSetSource     = "/remoteapp/tv/ui_service/%s/actions/changesource"
	topicGetApps       = "/remoteapp/tv/ui_service/%s/actions/applist"
	topicLaunchApp     = "/remoteapp/tv/ui_service/%s/actions/launchapp"
	topicGetTVInfo     = "/remoteapp/tv/platform_service/%s/actions/gettvinfo"
	topicGetDeviceInfo = "/remoteapp/tv/platform_service/%s/actions/getdeviceinfo"
	topicGetCapability = "/remoteapp/tv/ui_service/%s/actions/capability"
)

// Response topics, subscribed after connect. The broadcast topics are
// shared by every connected client; the rest are addressed to one
// client identity.
const (
	broadcastPrefix      = "/remoteapp/mobile/broadcast/"
	topicBroadcastState  = "/remoteapp/mobile/broadcast/ui_service/state"
	topicBroadcastVolume = "/remoteapp/mobile/broadcast/ui_service/volume"

	topicRespSources    = "/remoteapp/mobile/%s/ui_service/data/sourcelist"
	topicRespApps       = "/remoteapp/mobile/%s/ui_service/data/applist"
	topicRespAuth       = "/remoteapp/mobile/%s/ui_service/data/authentication"
	topicRespAuthCode   = "/remoteapp/mobile/%s/ui_service/data/authenticationcode"
	topicRespToken      = "/remoteapp/mobile/%s/platform_service/data/tokenissuance"
	topicRespVolume     = "/remoteapp/mobile/%s/platform_service/data/getvolume"
	topicRespTVInfo     = "/remoteapp/mobile/%s/platform_service/data/gettvinfo"
	topicRespDeviceInfo = "/remoteapp/mobile/%s/platform_service/data/getdeviceinfo"
	topicRespCapability = "/remoteapp/mobile/%s/ui_service/data/capability"
)

func formatTopic(template, clientID string) string {
	return strings.Replace(template, "%s", clientID, 1)
}

// Source identifiers accepted by the changesource action.
var SourceIDs = map[string]string{
	"tv":        "0",
	"av":        "1",
	"component": "2",
	"hdmi1":     "3",
	"hdmi2":     "4",
	"hdmi3":     "5",
	"hdmi4":     "6",
}

// SourceID resolves a friendly source name to its firmware identifier.
// Unknown names pass through unchanged so raw identifiers keep working.
func SourceID(name string) string {
	if id, ok := SourceIDs[normalizeName(name)]; ok {
		return id
	}
	return name
}
