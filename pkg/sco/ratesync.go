package sco

import "time"

// RateSynchronizer is a wall-clock pacing primitive. Given an initial sample
// rate it is ticked once per poll-loop iteration with the number of PCM
// frames emitted; it sleeps just long enough that cumulative emitted frames
// track real time, and separately reports how many of those microseconds
// were spent on real work (as opposed to sleeping), for delay reporting.
type RateSynchronizer struct {
	rate       uint32 // sample rate in Hz, 0 disables pacing
	frames     uint64 // cumulative frames emitted since epoch
	epoch      time.Time
	lastBusyUs uint32
}

// NewRateSynchronizer creates a synchronizer paced at rateHz, with the epoch
// starting now.
func NewRateSynchronizer(rateHz uint32) *RateSynchronizer {
	return &RateSynchronizer{rate: rateHz, epoch: time.Now()}
}

// Reset reinitializes the synchronizer at a new rate, as required whenever
// the I/O loop transitions into RUNNING (PCM_OPEN / PCM_RESUME).
func (r *RateSynchronizer) Reset(rateHz uint32) {
	r.rate = rateHz
	r.frames = 0
	r.epoch = time.Now()
	r.lastBusyUs = 0
}

// Frames reports the cumulative frame count since the last Reset.
func (r *RateSynchronizer) Frames() uint64 { return r.frames }

// Tick advances the synchronizer by framesEmitted PCM frames (0 if no data
// moved this iteration) and blocks until the cumulative frame count catches
// up with wall-clock time at the configured rate. workDuration is the time
// the caller actually spent doing I/O this iteration, excluding the pacing
// sleep performed inside Tick; it is reported back as busyMicroseconds,
// which the I/O loop divides by 100 and publishes into the PCM delay field.
func (r *RateSynchronizer) Tick(framesEmitted uint64, workDuration time.Duration) (busyMicroseconds uint32) {
	r.frames += framesEmitted
	if r.rate > 0 {
		target := r.epoch.Add(frameDuration(r.frames, r.rate))
		if d := time.Until(target); d > 0 {
			time.Sleep(d)
		}
	}
	if workDuration < 0 {
		workDuration = 0
	}
	r.lastBusyUs = uint32(workDuration.Microseconds())
	return r.lastBusyUs
}

// BusyMicroseconds returns the busy time reported by the most recent Tick.
func (r *RateSynchronizer) BusyMicroseconds() uint32 { return r.lastBusyUs }

func frameDuration(frames uint64, rateHz uint32) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(rateHz)
}
