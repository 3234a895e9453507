package mqtt

import "strings"

// Topic wildcards as defined by MQTT 3.1.1 section 4.7.
const (
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"
	topicSeparator      = "/"
)

// MatchTopic reports whether topic matches the subscription filter.
//
// It implements the broker-side rules: "+" matches exactly one level,
// "#" matches the remaining levels (including none) and must be last,
// and filters starting with a wildcard never match topics beginning with "$".
//
// Example:
//
//	MatchTopic("tele/+/LWT", "tele/sonoff-1/LWT") // true
//	MatchTopic("stat/#", "stat")                  // true
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	filterLevels := strings.Split(filter, topicSeparator)
	topicLevels := strings.Split(topic, topicSeparator)

	if strings.HasPrefix(topic, "$") &&
		(filterLevels[0] == SingleLevelWildcard || filterLevels[0] == MultiLevelWildcard) {
		return false
	}

	for i, level := range filterLevels {
		if level == MultiLevelWildcard {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != SingleLevelWildcard && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}
