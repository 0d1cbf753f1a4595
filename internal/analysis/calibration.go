package analysis

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// Default calibration used for videos without an entry.
const (
	DefaultMetersPerPixel = 0.05
	DefaultROITop         = 0.6
	DefaultROIBottom      = 0.9
)

// Calibration maps image motion to ground distance for one camera setup.
type Calibration struct {
	MetersPerPixel float64 `json:"meters_per_pixel"`
	ROITop         float64 `json:"roi_top"`
	ROIBottom      float64 `json:"roi_bottom"`
}

func DefaultCalibration() Calibration {
	return Calibration{MetersPerPixel: DefaultMetersPerPixel, ROITop: DefaultROITop, ROIBottom: DefaultROIBottom}
}

type partialCalibration struct {
	MetersPerPixel *float64 `json:"meters_per_pixel"`
	ROITop         *float64 `json:"roi_top"`
	ROIBottom      *float64 `json:"roi_bottom"`
}

// Calibrations is keyed by video filename.
type Calibrations map[string]Calibration

// LoadCalibrations reads the calibration document; a missing file yields an empty set.
// Entries may omit fields, which then take the defaults.
func LoadCalibrations(path string) (Calibrations, error) {
	out := Calibrations{}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibrations: %w", err)
	}
	var raw map[string]partialCalibration
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse calibrations %s: %w", path, err)
	}
	for name, p := range raw {
		c := DefaultCalibration()
		if p.MetersPerPixel != nil {
			c.MetersPerPixel = *p.MetersPerPixel
		}
		if p.ROITop != nil {
			c.ROITop = *p.ROITop
		}
		if p.ROIBottom != nil {
			c.ROIBottom = *p.ROIBottom
		}
		out[name] = c
	}
	return out, nil
}

// For returns the calibration of the first name with an entry, or the defaults.
func (c Calibrations) For(names ...string) Calibration {
	for _, name := range names {
		if cal, ok := c[name]; ok && name != "" {
			return cal
		}
	}
	return DefaultCalibration()
}
