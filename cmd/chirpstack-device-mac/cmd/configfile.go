package cmd

import (
	"os"
	"text/template"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/brocaar/chirpstack-device-mac/internal/config"
)

const configTemplate = `[general]
# Log level
#
# debug=5, info=4, warning=3, error=2, fatal=1, panic=0
log_level={{ .General.LogLevel }}

# Log in JSON format.
log_json={{ .General.LogJSON }}

# Log to syslog.
#
# When set to true, log messages are being written to syslog.
log_to_syslog={{ .General.LogToSyslog }}


# End-device settings.
[device]
# Device EUI (HEX encoded).
dev_eui="{{ .Device.DevEUI }}"

# Join EUI (HEX encoded).
join_eui="{{ .Device.JoinEUI }}"

# Application root key (HEX encoded).
app_key="{{ .Device.AppKey }}"

# Network root key (HEX encoded).
#
# When left blank, the app_key is used. LoRaWAN 1.0 devices only have a
# single root key.
nwk_key="{{ .Device.NwkKey }}"

# Activation.
#
# Valid options are:
#  * otaa
#  * abp
activation="{{ .Device.Activation }}"

# Device class (A, B or C).
#
# Class B is entered once the ping-slot has been assigned and the beacon
# has been acquired.
class="{{ .Device.Class }}"

# LoRaWAN version (1.0.4 or 1.1.1).
#
# For OTAA devices, the version is negotiated during the join.
lorawan_version="{{ .Device.LoRaWANVersion }}"

# Key encryption key (HEX encoded).
#
# This key wraps the key store (RFC 3394) before it is persisted in Redis.
kek="{{ .Device.KEK }}"

# ABP session (only used when activation=abp).
#
# For LoRaWAN 1.0, only the f_nwk_s_int_key is required. It will be used
# as network session key.
dev_addr="{{ .Device.DevAddr }}"
net_id="{{ .Device.NetID }}"
app_s_key="{{ .Device.AppSKey }}"
nwk_s_enc_key="{{ .Device.NwkSEncKey }}"
s_nwk_s_int_key="{{ .Device.SNwkSIntKey }}"
f_nwk_s_int_key="{{ .Device.FNwkSIntKey }}"


# Region settings.
[region]
# Region name.
#
# Valid options are:
#  * AS923
#  * AU915
#  * CN470
#  * CN779
#  * EU433
#  * EU868
#  * IN865
#  * KR920
#  * RU864
#  * US915
name="{{ .Region.Name }}"

# Repeater compatible.
repeater_compatible={{ .Region.RepeaterCompatible }}

# Uplink dwell-time limited to 400ms.
dwell_time_400ms={{ .Region.DwellTime400ms }}


# MAC layer settings.
[mac]
# Adaptive data-rate.
adr={{ .MAC.ADR }}

# Enforce the regional duty-cycle restrictions.
duty_cycle={{ .MAC.DutyCycle }}

# Use the public network sync-word.
public_network={{ .MAC.PublicNetwork }}

# Send confirmed uplinks.
confirmed={{ .MAC.Confirmed }}

# Number of transmissions of each uplink.
retries={{ .MAC.Retries }}

# Uplink data-rate (used when ADR is disabled).
datarate={{ .MAC.Datarate }}

# Maximum timing error of the receiver.
system_max_rx_error="{{ .MAC.SystemMaxRxError }}"

# Minimum number of preamble symbols to detect a frame.
min_rx_symbols={{ .MAC.MinRxSymbols }}

# Class B ping-slot periodicity (0 - 7).
#
# The device opens 2^(7 - periodicity) ping-slots per beacon period.
ping_slot_periodicity={{ .MAC.PingSlotPeriodicity }}

# Interval between the uplinks.
uplink_interval="{{ .MAC.UplinkInterval }}"

# Interval between the join attempts.
join_retry_interval="{{ .MAC.JoinRetryInterval }}"

# Uplink FPort.
f_port={{ .MAC.FPort }}

# Uplink payload (HEX encoded).
payload="{{ .MAC.Payload }}"


# Redis settings
#
# The device context and the DevNonce history are stored in Redis.
[redis]
# Server address or addresses.
#
# Set multiple addresses when connecting to a cluster.
servers=[{{ range $index, $elm := .Redis.Servers }}
  "{{ $elm }}",{{ end }}
]

# Password.
#
# Set the password when connecting to Redis requires password authentication.
password="{{ .Redis.Password }}"

# Database index.
#
# By default, this can be a number between 0-15.
database={{ .Redis.Database }}

# Redis Cluster.
#
# Set this to true when the provided URLs are pointing to a Redis Cluster
# instance.
cluster={{ .Redis.Cluster }}

# Master name.
#
# Set the master name when the provided URLs are pointing to a Redis Sentinel
# instance.
master_name="{{ .Redis.MasterName }}"

# Connection pool size.
#
# Default (when set to 0) is 10 connections per every CPU.
pool_size={{ .Redis.PoolSize }}

# TLS enabled.
tls_enabled={{ .Redis.TLSEnabled }}

# Key prefix.
#
# A key prefix can be used to avoid key collisions when multiple devices
# share the same Redis database.
key_prefix="{{ .Redis.KeyPrefix }}"


# Radio settings.
#
# The radio is a virtual gateway: uplinks are published as gateway events
# and the downlinks are received as gateway commands.
[radio.backend]
# Backend type.
#
# Valid options are:
#   * mqtt
#   * amqp
#   * gcp_pub_sub
type="{{ .Radio.Backend.Type }}"

# Gateway ID (HEX encoded).
gateway_id="{{ .Radio.Backend.GatewayID }}"

# Payload marshaler (protobuf or json).
marshaler="{{ .Radio.Backend.Marshaler }}"

# RSSI and SNR reported for the uplinks and the received downlinks.
rssi={{ .Radio.Backend.RSSI }}
snr={{ .Radio.Backend.SNR }}

# Time a downlink is kept when no matching receive window is open.
#
# Expired downlinks are acknowledged as TOO_LATE.
downlink_ttl="{{ .Radio.Backend.DownlinkTTL }}"

  # MQTT backend.
  [radio.backend.mqtt]
  # Event topic template.
  event_topic_template="{{ .Radio.Backend.MQTT.EventTopicTemplate }}"

  # Command topic template.
  command_topic_template="{{ .Radio.Backend.MQTT.CommandTopicTemplate }}"

  # MQTT server (e.g. scheme://host:port where scheme is tcp, ssl or ws)
  server="{{ .Radio.Backend.MQTT.Server }}"

  # Connect with the given username (optional)
  username="{{ .Radio.Backend.MQTT.Username }}"

  # Connect with the given password (optional)
  password="{{ .Radio.Backend.MQTT.Password }}"

  # Maximum interval that will be waited between reconnection attempts when connection is lost.
  # Valid units are 'ms', 's', 'm', 'h'. Note that these values can be combined, e.g. '24h30m15s'.
  max_reconnect_interval="{{ .Radio.Backend.MQTT.MaxReconnectInterval }}"

  # Quality of service level
  #
  # 0: at most once
  # 1: at least once
  # 2: exactly once
  #
  # Note: an increase of this value will decrease the performance.
  # For more information: https://www.hivemq.com/blog/mqtt-essentials-part-6-mqtt-quality-of-service-levels
  qos={{ .Radio.Backend.MQTT.QOS }}

  # Clean session
  #
  # Set the "clean session" flag in the connect message when this client
  # connects to an MQTT broker. By setting this flag you are indicating
  # that no messages saved by the broker for this client should be delivered.
  clean_session={{ .Radio.Backend.MQTT.CleanSession }}

  # Client ID
  #
  # Set the client id to be used by this client when connecting to the MQTT
  # broker. A client id must be no longer than 23 characters. When left blank,
  # a random id will be generated. This requires clean_session=true.
  client_id="{{ .Radio.Backend.MQTT.ClientID }}"

  # CA certificate file (optional)
  #
  # Use this when setting up a secure connection (when server uses ssl://...)
  # but the certificate used by the server is not trusted by any CA certificate
  # on the server (e.g. when self generated).
  ca_cert="{{ .Radio.Backend.MQTT.CACert }}"

  # TLS certificate file (optional)
  tls_cert="{{ .Radio.Backend.MQTT.TLSCert }}"

  # TLS key file (optional)
  tls_key="{{ .Radio.Backend.MQTT.TLSKey }}"


  # AMQP / RabbitMQ backend.
  [radio.backend.amqp]
  # Server URL.
  #
  # See for a specification of all the possible options:
  # https://www.rabbitmq.com/uri-spec.html
  url="{{ .Radio.Backend.AMQP.URL }}"

  # Event routing-key template.
  event_routing_key_template="{{ .Radio.Backend.AMQP.EventRoutingKeyTemplate }}"

  # Command queue name.
  #
  # The queue is created when it does not yet exist.
  command_queue_name="{{ .Radio.Backend.AMQP.CommandQueueName }}"

  # Command routing-key.
  #
  # The routing-key used to bind the command queue to the amq.topic exchange.
  command_routing_key="{{ .Radio.Backend.AMQP.CommandRoutingKey }}"


  # Google Cloud Pub/Sub backend.
  [radio.backend.gcp_pub_sub]
  # Path to the IAM service-account credentials file.
  #
  # Note: this service-account must have the following Pub/Sub roles:
  #  * Pub/Sub Editor
  credentials_file="{{ .Radio.Backend.GCPPubSub.CredentialsFile }}"

  # Google Cloud project id.
  project_id="{{ .Radio.Backend.GCPPubSub.ProjectID }}"

  # Uplink Pub/Sub topic name (to which the events are published).
  uplink_topic_name="{{ .Radio.Backend.GCPPubSub.UplinkTopicName }}"

  # Downlink Pub/Sub topic name (from which the commands are received).
  downlink_topic_name="{{ .Radio.Backend.GCPPubSub.DownlinkTopicName }}"

  # Downlink retention duration.
  #
  # This sets the retention duration of the subscription which is created
  # for the gateway.
  downlink_retention_duration="{{ .Radio.Backend.GCPPubSub.DownlinkRetentionDuration }}"


# ADR settings.
[adr]
# ADR plugins.
#
# Each plugin is an executable implementing the ADR handler interface
# (see the adr package).
plugins=[{{ range $index, $elm := .ADR.Plugins }}
  "{{ $elm }}",{{ end }}
]

# ADR handler ID.
#
# Use "default" for the built-in ADR backoff, or the ID of a loaded plugin.
handler="{{ .ADR.Handler }}"


# Monitoring settings.
[monitoring]
# IP:port to bind the monitoring endpoint to.
#
# When left blank, the monitoring endpoint will be disabled.
bind="{{ .Monitoring.Bind }}"

# Prometheus metrics endpoint.
#
# When set to true, Prometheus metrics will be served at '/metrics'.
prometheus_endpoint={{ .Monitoring.PrometheusEndpoint }}

# Healthcheck endpoint.
#
# When set to true, the healthcheck endpoint will be served at '/health'.
healthcheck_endpoint={{ .Monitoring.HealthcheckEndpoint }}
`

var configCmd = &cobra.Command{
	Use:   "configfile",
	Short: "Print the ChirpStack Device MAC configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := template.Must(template.New("config").Parse(configTemplate))
		err := t.Execute(os.Stdout, &config.C)
		if err != nil {
			return errors.Wrap(err, "execute config template error")
		}
		return nil
	},
}
