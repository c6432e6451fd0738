package config

import (
	"time"

	"github.com/brocaar/lorawan"
)

// Version defines the ChirpStack Device MAC version.
var Version string

// C holds the global configuration.
var C Config

// Config defines the configuration structure.
type Config struct {
	General struct {
		LogLevel    int  `mapstructure:"log_level"`
		LogJSON     bool `mapstructure:"log_json"`
		LogToSyslog bool `mapstructure:"log_to_syslog"`
	} `mapstructure:"general"`

	Device struct {
		DevEUI         lorawan.EUI64     `mapstructure:"dev_eui"`
		JoinEUI        lorawan.EUI64     `mapstructure:"join_eui"`
		AppKey         lorawan.AES128Key `mapstructure:"app_key"`
		NwkKey         lorawan.AES128Key `mapstructure:"nwk_key"`
		Activation     string            `mapstructure:"activation"`
		Class          string            `mapstructure:"class"`
		LoRaWANVersion string            `mapstructure:"lorawan_version"`

		// ABP session.
		DevAddr     lorawan.DevAddr   `mapstructure:"dev_addr"`
		NetID       lorawan.NetID     `mapstructure:"net_id"`
		AppSKey     lorawan.AES128Key `mapstructure:"app_s_key"`
		NwkSEncKey  lorawan.AES128Key `mapstructure:"nwk_s_enc_key"`
		SNwkSIntKey lorawan.AES128Key `mapstructure:"s_nwk_s_int_key"`
		FNwkSIntKey lorawan.AES128Key `mapstructure:"f_nwk_s_int_key"`

		// KEK wraps the secure-element key store when persisted.
		KEK lorawan.AES128Key `mapstructure:"kek"`
	} `mapstructure:"device"`

	Region struct {
		Name               string `mapstructure:"name"`
		RepeaterCompatible bool   `mapstructure:"repeater_compatible"`
		DwellTime400ms     bool   `mapstructure:"dwell_time_400ms"`
	} `mapstructure:"region"`

	MAC struct {
		ADR                 bool          `mapstructure:"adr"`
		DutyCycle           bool          `mapstructure:"duty_cycle"`
		PublicNetwork       bool          `mapstructure:"public_network"`
		Confirmed           bool          `mapstructure:"confirmed"`
		Retries             uint8         `mapstructure:"retries"`
		Datarate            uint8         `mapstructure:"datarate"`
		SystemMaxRxError    time.Duration `mapstructure:"system_max_rx_error"`
		MinRxSymbols        uint8         `mapstructure:"min_rx_symbols"`
		PingSlotPeriodicity uint8         `mapstructure:"ping_slot_periodicity"`
		UplinkInterval      time.Duration `mapstructure:"uplink_interval"`
		JoinRetryInterval   time.Duration `mapstructure:"join_retry_interval"`
		FPort               uint8         `mapstructure:"f_port"`
		Payload             string        `mapstructure:"payload"`
	} `mapstructure:"mac"`

	Redis struct {
		URL        string   `mapstructure:"url"` // deprecated
		Servers    []string `mapstructure:"servers"`
		Cluster    bool     `mapstructure:"cluster"`
		MasterName string   `mapstructure:"master_name"`
		PoolSize   int      `mapstructure:"pool_size"`
		Password   string   `mapstructure:"password"`
		Database   int      `mapstructure:"database"`
		TLSEnabled bool     `mapstructure:"tls_enabled"`
		KeyPrefix  string   `mapstructure:"key_prefix"`
	} `mapstructure:"redis"`

	Radio struct {
		Backend struct {
			Type string `mapstructure:"type"`

			GatewayID   lorawan.EUI64 `mapstructure:"gateway_id"`
			Marshaler   string        `mapstructure:"marshaler"`
			RSSI        int16         `mapstructure:"rssi"`
			SNR         int8          `mapstructure:"snr"`
			DownlinkTTL time.Duration `mapstructure:"downlink_ttl"`

			MQTT struct {
				Server               string        `mapstructure:"server"`
				Username             string        `mapstructure:"username"`
				Password             string        `mapstructure:"password"`
				MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`
				QOS                  uint8         `mapstructure:"qos"`
				CleanSession         bool          `mapstructure:"clean_session"`
				ClientID             string        `mapstructure:"client_id"`
				CACert               string        `mapstructure:"ca_cert"`
				TLSCert              string        `mapstructure:"tls_cert"`
				TLSKey               string        `mapstructure:"tls_key"`
				EventTopicTemplate   string        `mapstructure:"event_topic_template"`
				CommandTopicTemplate string        `mapstructure:"command_topic_template"`
			} `mapstructure:"mqtt"`

			AMQP struct {
				URL                     string `mapstructure:"url"`
				EventRoutingKeyTemplate string `mapstructure:"event_routing_key_template"`
				CommandQueueName        string `mapstructure:"command_queue_name"`
				CommandRoutingKey       string `mapstructure:"command_routing_key"`
			} `mapstructure:"amqp"`

			GCPPubSub struct {
				CredentialsFile           string        `mapstructure:"credentials_file"`
				ProjectID                 string        `mapstructure:"project_id"`
				UplinkTopicName           string        `mapstructure:"uplink_topic_name"`
				DownlinkTopicName         string        `mapstructure:"downlink_topic_name"`
				DownlinkRetentionDuration time.Duration `mapstructure:"downlink_retention_duration"`
			} `mapstructure:"gcp_pub_sub"`
		} `mapstructure:"backend"`
	} `mapstructure:"radio"`

	ADR struct {
		Plugins []string `mapstructure:"plugins"`
		Handler string   `mapstructure:"handler"`
	} `mapstructure:"adr"`

	Monitoring struct {
		Bind                string `mapstructure:"bind"`
		PrometheusEndpoint  bool   `mapstructure:"prometheus_endpoint"`
		HealthcheckEndpoint bool   `mapstructure:"healthcheck_endpoint"`
	} `mapstructure:"monitoring"`
}
