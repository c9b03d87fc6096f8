package testutil

import "github.com/npratt/dobi/internal/backend"

// Sample detections

// SafePerson is a person wearing the required equipment.
func SafePerson(conf float64) backend.Detection {
	return backend.Detection{Label: "PERSON", RawLabel: backend.PersonLabel, Confidence: conf, PPEStatus: backend.PPESafe}
}

// UnsafePerson is a person missing equipment.
func UnsafePerson(conf float64) backend.Detection {
	return backend.Detection{Label: "PERSON", RawLabel: backend.PersonLabel, Confidence: conf, PPEStatus: backend.PPEUnsafe}
}

// Fire is a fire detection; the model's raw class name is "api".
func Fire(conf float64) backend.Detection {
	return backend.Detection{Label: "FIRE", RawLabel: "api", Confidence: conf}
}

// Batch wraps detections in a /detections response.
func Batch(ts float64, ds ...backend.Detection) *backend.DetectionsResponse {
	if ds == nil {
		ds = []backend.Detection{}
	}
	return &backend.DetectionsResponse{Timestamp: ts, Count: len(ds), Detections: ds, Connected: true}
}

// TwoPeople is one safe (0.9) and one unsafe (0.7) person: 2 detections,
// average confidence 0.8, 50% compliance.
func TwoPeople() *backend.DetectionsResponse {
	return Batch(1700000000, SafePerson(0.9), UnsafePerson(0.7))
}

// Sample settings files

// SettingsYAML is a saved settings file as written by the dashboard.
const SettingsYAML = `robotics-settings:
  streamUrl: http://cam.local:8080/?action=stream
  piIp: 10.40.0.7
  backendUrl: robot.local
`
