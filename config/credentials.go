package config

import "github.com/vinayprograms/courier/credentials"

// UseCredentials makes file secrets available to the llm sections and
// the bus. A nil value clears them.
func (c *Config) UseCredentials(creds *credentials.Credentials) {
	c.creds = creds
	c.LLM.creds = creds
	c.SmallLLM.creds = creds
}

// CredentialsPath returns the file secrets were read from, if any.
func (c *Config) CredentialsPath() string {
	if c.creds == nil {
		return ""
	}
	return c.creds.Path
}

// NATSAuth returns bus secrets from the credentials file.
func (c *Config) NATSAuth() credentials.NATS {
	return c.creds.NATS()
}
