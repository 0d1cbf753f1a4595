package analysis

import "math"

type series[T any] struct {
	frames []int
	times  []float64
	values []T
}

func (s *series[T]) add(frame int, t float64, v T) {
	s.frames = append(s.frames, frame)
	s.times = append(s.times, t)
	s.values = append(s.values, v)
}

func (s *series[T]) rate(fps float64) float64 {
	return seriesRate(s.frames, s.times, fps)
}

// Accumulator collects samples as they stream in and produces a Result once
// the stream ends. It is not safe for concurrent use.
type Accumulator struct {
	meta  Meta
	calib Calibration

	flow     series[float64]
	speed    series[float64]
	bands    series[[3]Band]
	rotation series[float64]
	lateral  series[Lateral]
	red      series[float64]
	signals  series[Signals]
	samples  int
}

func NewAccumulator(meta Meta, calib Calibration) *Accumulator {
	return &Accumulator{meta: meta, calib: calib}
}

// SetMeta replaces the clip metadata, keeping the filename when the new one is blank.
func (a *Accumulator) SetMeta(meta Meta) {
	if meta.Filename == "" {
		meta.Filename = a.meta.Filename
	}
	a.meta = meta
}

// Samples reports how many samples have been added.
func (a *Accumulator) Samples() int { return a.samples }

func (a *Accumulator) Add(s Sample) {
	if s.Time == 0 && s.Frame > 0 && a.meta.FPS > 0 {
		s.Time = float64(s.Frame) / a.meta.FPS
	}
	a.samples++
	if s.SpeedKmph != nil {
		a.speed.add(s.Frame, s.Time, clamp(*s.SpeedKmph, minSpeedKmph, maxSpeedKmph))
	} else if s.FlowPx != nil {
		a.flow.add(s.Frame, s.Time, *s.FlowPx)
	}
	if len(s.Bands) > 0 {
		var b [3]Band
		copy(b[:], s.Bands)
		a.bands.add(s.Frame, s.Time, b)
	}
	if s.RotationDeg != nil {
		a.rotation.add(s.Frame, s.Time, *s.RotationDeg)
	}
	if s.Lateral != nil {
		a.lateral.add(s.Frame, s.Time, *s.Lateral)
	}
	if s.RedCoverage != nil {
		a.red.add(s.Frame, s.Time, *s.RedCoverage)
	}
	if s.Signals != nil {
		a.signals.add(s.Frame, s.Time, *s.Signals)
	}
}

func (a *Accumulator) speedPoints() []SpeedPoint {
	var points []SpeedPoint
	for i, v := range a.speed.values {
		points = append(points, SpeedPoint{Time: a.speed.times[i], Kmph: v})
	}
	if len(a.flow.values) > 0 {
		rate := a.flow.rate(a.meta.FPS)
		for i, v := range a.flow.values {
			points = append(points, SpeedPoint{Time: a.flow.times[i], Kmph: SampleSpeed(v, a.calib.MetersPerPixel, rate)})
		}
	}
	return points
}

func (a *Accumulator) metadata() VideoMetadata {
	m := a.meta
	duration := m.DurationSeconds
	if m.FPS > 0 && m.FrameCount > 0 {
		duration = float64(m.FrameCount) / m.FPS
	}
	return VideoMetadata{
		DurationSeconds: round(duration, 2),
		FPS:             round(m.FPS, 2),
		FrameCount:      m.FrameCount,
		Resolution:      Resolution{Width: m.Width, Height: m.Height},
	}
}

// Result runs every detector over the collected series.
func (a *Accumulator) Result() Result {
	fps := a.meta.FPS
	points := a.speedPoints()
	speeds := make([]float64, len(points))
	for i, p := range points {
		speeds[i] = p.Kmph
	}

	frames := make([]BandFrame, len(a.bands.values))
	for i, b := range a.bands.values {
		frames[i] = BandFrame{Time: a.bands.times[i], Bands: b}
	}
	encounters := EncounterSummary{Encounters: []Encounter{}}
	if len(frames) > 0 {
		encounters = DetectEncounters(frames, a.bands.rate(fps))
	}

	rotations := make([]RotationSample, len(a.rotation.values))
	for i, v := range a.rotation.values {
		rotations[i] = RotationSample{Time: a.rotation.times[i], AngleDeg: v}
	}

	coverage := make([]CoverageSample, len(a.red.values))
	for i, v := range a.red.values {
		coverage[i] = CoverageSample{Time: a.red.times[i], Coverage: v}
	}

	signals := make([]SignalSample, len(a.signals.values))
	for i, v := range a.signals.values {
		signals[i] = SignalSample{Time: a.signals.times[i], Signals: v}
	}

	avg := AverageSpeed(speeds)
	if math.IsNaN(avg) {
		avg = 0
	}
	r := Result{
		VideoFilename:    a.meta.Filename,
		VideoMetadata:    a.metadata(),
		AverageSpeedKmph: round(avg, 2),
		TrafficSignals:   DetectTrafficViolations(signals, points),
		CloseEncounters:  encounters,
		Turns:            CountTurns(rotations, a.rotation.rate(fps)),
		LaneChanges:      CountLaneChanges(a.lateral.values, a.lateral.rate(fps)),
		BusLane:          DetectBusLane(coverage),
		SpeedTimeline:    SpeedTimeline(points),
	}
	r.Rescore()
	return r
}

// Analyze is the one-shot form of the Accumulator.
func Analyze(meta Meta, calib Calibration, samples []Sample) Result {
	acc := NewAccumulator(meta, calib)
	for _, s := range samples {
		acc.Add(s)
	}
	return acc.Result()
}
