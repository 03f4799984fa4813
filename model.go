package pio

import "time"

// WorkerConfig describes one stepper worker: its wiring and the commands the
// coordinator feeds it, in order.
type WorkerConfig struct {
	Name          string `yaml:"name"`
	StepperConfig `yaml:",inline"`
	Plan          []Command `yaml:"plan"`
}

// ADCConfig selects the converter and channel sampled by adctest.
type ADCConfig struct {
	ChipSelect int           `yaml:"chip_select"`
	Aux        bool          `yaml:"aux"`
	Channel    int           `yaml:"channel"`
	Interval   time.Duration `yaml:"interval"`
}

// AlertConfig configures one alert handler.  Type is "log" or "email"; the
// SMTP fields only apply to email.
type AlertConfig struct {
	Type       string `yaml:"type"`
	SMTPServer string `yaml:"smtp_server,omitempty"`
	SMTPPort   int    `yaml:"smtp_port,omitempty"`
	Username   string `yaml:"username,omitempty"`
	Password   string `yaml:"password,omitempty"`
	From       string `yaml:"from,omitempty"`
	To         string `yaml:"to,omitempty"`
	Subject    string `yaml:"subject,omitempty"`
}

// Config is the top-level structure serialized to the config file.  Host and
// Port locate the pin-control daemon; PIGPIO_ADDR and PIGPIO_PORT override
// them, as they do for the daemon's own tools.
type Config struct {
	Version      string         `yaml:"version"`
	Host         string         `yaml:"host"`
	Port         int            `yaml:"port"`
	PollInterval time.Duration  `yaml:"poll_interval"`
	LogFile      string         `yaml:"log_file"`
	Alerts       []AlertConfig  `yaml:"alerts,omitempty"`
	Workers      []WorkerConfig `yaml:"workers"`
	ADC          *ADCConfig     `yaml:"adc,omitempty"`
}

// DefaultConfig returns the configuration written on first run: two
// two-pin steppers with short demonstration plans, and the MCP3008 on CE1
// of the auxiliary bus.
func DefaultConfig() Config {
	ms := time.Millisecond
	return Config{
		Version:      ConfigVersion,
		Host:         DefaultHost,
		Port:         DefaultPort,
		PollInterval: DefaultPollInterval,
		Alerts:       []AlertConfig{{Type: "log"}},
		Workers: []WorkerConfig{
			{
				Name:          "stepper1",
				StepperConfig: StepperConfig{Pins: []int{23, 24}},
				Plan: []Command{
					{Steps: 50, Delay: 20 * ms, Forward: true},
					{Steps: 30, Delay: 50 * ms, Forward: false},
					{Steps: 40, Delay: 10 * ms, Forward: true},
				},
			},
			{
				Name:          "stepper2",
				StepperConfig: StepperConfig{Pins: []int{14, 15}},
				Plan: []Command{
					{Steps: 100, Delay: 10 * ms, Forward: false},
					{Steps: 30, Delay: 300 * ms, Forward: true},
					{Steps: 40, Delay: 10 * ms, Forward: false},
				},
			},
		},
		ADC: &ADCConfig{ChipSelect: 1, Aux: true, Channel: 0, Interval: time.Second},
	}
}
