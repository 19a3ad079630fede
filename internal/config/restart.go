package config

import "reflect"

// RestartRequired compares two configurations and returns the names of the
// changed option groups that only take effect after a pipeline restart.
// Hot options (summary, kafka, logging) apply without one; an empty result
// with differing configs means the change can be applied in place.
func RestartRequired(old, next *Config) []string {
	if old == nil || next == nil {
		return nil
	}

	var groups []string
	if !reflect.DeepEqual(old.Capture, next.Capture) {
		groups = append(groups, "capture")
	}
	if old.VAD != next.VAD {
		groups = append(groups, "vad")
	}
	if !inferenceEqual(old.Inference, next.Inference) {
		groups = append(groups, "inference")
	}
	if !reflect.DeepEqual(old.Cluster, next.Cluster) {
		groups = append(groups, "cluster")
	}
	if old.Retention != next.Retention {
		groups = append(groups, "retention")
	}
	if old.History != next.History {
		groups = append(groups, "history")
	}
	if old.Server != next.Server {
		groups = append(groups, "server")
	}
	return groups
}

func inferenceEqual(a, b InferenceConfig) bool {
	return a.Transcription == b.Transcription &&
		a.Embedding == b.Embedding &&
		a.Algorithm == b.Algorithm &&
		a.RetryBackoff == b.RetryBackoff &&
		a.DrainTimeout == b.DrainTimeout
}
