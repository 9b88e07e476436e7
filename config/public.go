package config

import "time"

// safe for API structure
type PublicConfig struct {
	General struct {
		InstanceID string `json:"instanceId"`
		BaseDir    string `json:"baseDir"`
		LogLevel   string `json:"logLevel"`
	} `json:"general"`

	Watch struct {
		TeamsDir         string        `json:"teamsDir"`
		TasksDir         string        `json:"tasksDir"`
		ConversationsDir string        `json:"conversationsDir"`
		SettleWindow     time.Duration `json:"settleWindow"`
		DebounceWindow   time.Duration `json:"debounceWindow"`
	} `json:"watch"`

	Broadcast struct {
		HeartbeatInterval time.Duration `json:"heartbeatInterval"`
		WSPath            string        `json:"wsPath"`
		HandshakeRequired bool          `json:"handshakeRequired"`
	} `json:"broadcast"`
}

// Public strips secrets from the configuration
func (c *Config) Public() PublicConfig {
	var p PublicConfig

	p.General.InstanceID = c.General.InstanceID
	p.General.BaseDir = c.General.BaseDir
	p.General.LogLevel = c.General.LogLevel

	p.Watch.TeamsDir = c.Watch.TeamsDir
	p.Watch.TasksDir = c.Watch.TasksDir
	p.Watch.ConversationsDir = c.Watch.ConversationsDir
	p.Watch.SettleWindow = c.Watch.SettleWindow
	p.Watch.DebounceWindow = c.Watch.DebounceWindow

	p.Broadcast.HeartbeatInterval = c.Broadcast.HeartbeatInterval
	p.Broadcast.WSPath = c.HTTP.WSPath
	p.Broadcast.HandshakeRequired = c.Security.TokenSecret != ""

	return p
}
