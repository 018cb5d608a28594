// Package datatype maps raw upload path segments to the data types chunks are
// keyed by, and records which of them can be merged into hourly chunks.
package datatype

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Type is the canonical name of a sensor or survey stream.
type Type string

const (
	Accelerometer   Type = "accelerometer"
	Bluetooth       Type = "bluetooth"
	Calls           Type = "calls"
	GPS             Type = "gps"
	Identifiers     Type = "identifiers"
	AppLog          Type = "app_log"
	PowerState      Type = "power_state"
	SurveyAnswers   Type = "survey_answers"
	SurveyTimings   Type = "survey_timings"
	Texts           Type = "texts"
	AudioRecordings Type = "audio_recordings"
	Wifi            Type = "wifi"
	Proximity       Type = "proximity"
	Gyro            Type = "gyro"
	Magnetometer    Type = "magnetometer"
	DeviceMotion    Type = "devicemotion"
	Reachability    Type = "reachability"
	IOSLog          Type = "ios_log"
	ImageSurvey     Type = "image_survey"
)

// ErrUnknownDataType is returned when a raw key names no known stream.
var ErrUnknownDataType = errors.New("unknown data type")

// rawSegments maps the path segment written by the mobile apps to a Type.
var rawSegments = map[string]Type{
	"accel":          Accelerometer,
	"bluetoothLog":   Bluetooth,
	"callLog":        Calls,
	"gps":            GPS,
	"identifiers":    Identifiers,
	"logFile":        AppLog,
	"powerState":     PowerState,
	"surveyAnswers":  SurveyAnswers,
	"surveyTimings":  SurveyTimings,
	"textsLog":       Texts,
	"voiceRecording": AudioRecordings,
	"wifiLog":        Wifi,
	"proximity":      Proximity,
	"gyro":           Gyro,
	"magnetometer":   Magnetometer,
	"devicemotion":   DeviceMotion,
	"reachability":   Reachability,
	"ios_log":        IOSLog,
	"imageSurvey":    ImageSurvey,
}

var unchunkable = map[Type]bool{
	SurveyAnswers:   true,
	AudioRecordings: true,
	ImageSurvey:     true,
}

var surveyTypes = map[Type]bool{
	SurveyAnswers:   true,
	SurveyTimings:   true,
	AudioRecordings: true,
	ImageSurvey:     true,
}

// FromSegment resolves a raw path segment.
func FromSegment(segment string) (Type, error) {
	t, ok := rawSegments[segment]
	if !ok {
		return "", errors.Wrapf(ErrUnknownDataType, "segment %q", segment)
	}
	return t, nil
}

// Parse accepts a canonical data type name.
func Parse(name string) (Type, error) {
	for _, t := range rawSegments {
		if string(t) == name {
			return t, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownDataType, "name %q", name)
}

// All returns every known type in name order.
func All() []Type {
	out := make([]Type, 0, len(rawSegments))
	for _, t := range rawSegments {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Chunkable reports whether rows of t are merged into hourly chunks.
func (t Type) Chunkable() bool { return !unchunkable[t] }

// IsSurvey reports whether uploads of t belong to a survey.
func (t Type) IsSurvey() bool { return surveyTypes[t] }

func (t Type) String() string { return string(t) }

// RawKey is a parsed raw upload key: {prefix}/{study}/{participant}/{segment}/.../{name}.
type RawKey struct {
	Key         string
	Study       string
	Participant string
	Type        Type
	// Segments holds every path element after the prefix.
	Segments []string
}

// FileName is the last element of the key.
func (k RawKey) FileName() string { return k.Segments[len(k.Segments)-1] }

// ParseRawKey splits a raw upload key under prefix. The data type is read
// from the third segment after the prefix.
func ParseRawKey(prefix, key string) (RawKey, error) {
	prefix = strings.Trim(prefix, "/") + "/"
	if !strings.HasPrefix(key, prefix) {
		return RawKey{}, errors.Errorf("key %q is not under %q", key, prefix)
	}
	segs := strings.Split(strings.TrimPrefix(key, prefix), "/")
	if len(segs) < 4 {
		return RawKey{}, errors.Errorf("key %q has too few segments", key)
	}
	for _, s := range segs {
		if s == "" {
			return RawKey{}, errors.Errorf("key %q has an empty segment", key)
		}
	}
	t, err := FromSegment(segs[2])
	if err != nil {
		return RawKey{}, errors.Wrapf(err, "key %q", key)
	}
	return RawKey{Key: key, Study: segs[0], Participant: segs[1], Type: t, Segments: segs}, nil
}
