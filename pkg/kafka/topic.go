package kafka

import "strings"

// TopicPrefix namespaces every topic published by the platform.
const TopicPrefix = "ecosharing"

// Topic builds a topic name such as "ecosharing.auth.credential.registered".
func Topic(parts ...string) string {
	return TopicPrefix + "." + strings.Join(parts, ".")
}
