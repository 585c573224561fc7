// Package notifications delivers job milestones via ntfy.
//
// The default implementation publishes to the ntfy topic URL configured in
// config.toml and degrades to a no-op when no topic is set. Individual
// events can be switched off in the [notifications] section; suppressed
// events return nil without any network traffic.
package notifications
