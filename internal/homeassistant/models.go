package homeassistant

type deviceConfiguration struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections,omitempty"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	SWVersion    string     `json:"sw_version,omitempty"`
}

type climateConfiguration struct {
	UniqueId                    string              `json:"unique_id"`
	Name                        string              `json:"name"`
	Device                      deviceConfiguration `json:"device"`
	AvailabilityTopic           string              `json:"availability_topic"`
	CurrentTemperatureTopic     string              `json:"current_temperature_topic"`
	CurrentTemperatureTemplate  string              `json:"current_temperature_template"`
	TemperatureStateTopic       string              `json:"temperature_state_topic"`
	TemperatureStateTemplate    string              `json:"temperature_state_template"`
	TemperatureCommandTopic     string              `json:"temperature_command_topic"`
	TemperatureLowStateTopic    string              `json:"temperature_low_state_topic"`
	TemperatureLowStateTemplate string              `json:"temperature_low_state_template"`
	TemperatureLowCommandTopic  string              `json:"temperature_low_command_topic"`
	TemperatureHighStateTopic   string              `json:"temperature_high_state_topic"`
	TemperatureHighTemplate     string              `json:"temperature_high_state_template"`
	TemperatureHighCommandTopic string              `json:"temperature_high_command_topic"`
	ModeStateTopic              string              `json:"mode_state_topic"`
	ModeStateTemplate           string              `json:"mode_state_template"`
	ModeCommandTopic            string              `json:"mode_command_topic"`
	Modes                       []string            `json:"modes"`
	ActionTopic                 string              `json:"action_topic"`
	ActionTemplate              string              `json:"action_template"`
	PresetModeStateTopic        string              `json:"preset_mode_state_topic"`
	PresetModeValueTemplate     string              `json:"preset_mode_value_template"`
	PresetModeCommandTopic      string              `json:"preset_mode_command_topic"`
	PresetModes                 []string            `json:"preset_modes"`
	PowerCommandTopic           string              `json:"power_command_topic"`
	MinTemp                     float64             `json:"min_temp"`
	MaxTemp                     float64             `json:"max_temp"`
	TempStep                    float64             `json:"temp_step"`
	TemperatureUnit             string              `json:"temperature_unit"`
}

type numberConfiguration struct {
	UniqueId          string              `json:"unique_id"`
	Name              string              `json:"name"`
	Device            deviceConfiguration `json:"device"`
	AvailabilityTopic string              `json:"availability_topic"`
	DeviceClass       string              `json:"device_class,omitempty"`
	StateTopic        string              `json:"state_topic"`
	ValueTemplate     string              `json:"value_template"`
	CommandTopic      string              `json:"command_topic"`
	Min               float64             `json:"min"`
	Max               float64             `json:"max"`
	Step              float64             `json:"step"`
	UnitOfMeasurement string              `json:"unit_of_measurement,omitempty"`
	EntityCategory    string              `json:"entity_category"`
}

type sensorConfiguration struct {
	UniqueId          string              `json:"unique_id"`
	Name              string              `json:"name"`
	Device            deviceConfiguration `json:"device"`
	AvailabilityTopic string              `json:"availability_topic"`
	DeviceClass       string              `json:"device_class,omitempty"`
	StateTopic        string              `json:"state_topic"`
	ValueTemplate     string              `json:"value_template"`
	UnitOfMeasurement string              `json:"unit_of_measurement"`
	EntityCategory    string              `json:"entity_category,omitempty"`
}
