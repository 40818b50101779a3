package config

const (
	TransportSim = "sim"
	TransportWS  = "ws"
	TransportZMQ = "zmq"
)

// ValidTransports lists the bridge transports the binaries can build.
var ValidTransports = map[string]bool{
	TransportSim: true,
	TransportWS:  true,
	TransportZMQ: true,
}

// ValidLogLevels mirrors the zap level names.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// DefaultVariables is the A32NX cockpit state polled when no list is configured.
var DefaultVariables = []string{
	"L:A32NX_GEAR_LEVER_POSITION_REQUEST",
	"L:A32NX_PARK_BRAKE_LEVER_POS",
	"L:A32NX_FLAPS_HANDLE_INDEX",
	"L:A32NX_SPOILERS_HANDLE_POSITION",
	"L:A32NX_AUTOPILOT_1_ACTIVE",
	"L:A32NX_AUTOPILOT_2_ACTIVE",
	"L:A32NX_AUTOTHRUST_STATUS",
	"L:A32NX_FCU_APPR_MODE_ACTIVE",
	"L:A32NX_FCU_LOC_MODE_ACTIVE",
	"L:A32NX_ENGINE_STATE:1",
	"L:A32NX_ENGINE_STATE:2",
	"L:A32NX_ELEC_AC_1_BUS_IS_POWERED",
	"L:A32NX_OVHD_ELEC_BAT_1_PB_IS_AUTO",
	"L:A32NX_OVHD_ELEC_BAT_2_PB_IS_AUTO",
	"L:A32NX_TRANSPONDER_MODE",
}
