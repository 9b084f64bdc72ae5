package sensor

import (
	"bytes"
	"encoding/binary"
	"time"

	"shakeskip/internal/motion"
)

// Linux input event codes used by accelerometers (linux/input-event-codes.h).
const (
	evSyn      = 0x00
	evAbs      = 0x03
	synReport  = 0x00
	synDropped = 0x03
	absX       = 0x00
	absY       = 0x01
	absZ       = 0x02
)

// StandardGravity is used to convert raw readings when a device reports
// its resolution in units per g.
const StandardGravity = 9.80665

// rawEvent is struct input_event on 64-bit Linux:
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type rawEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

var rawEventSize = binary.Size(rawEvent{})

func (e rawEvent) at() time.Duration {
	return time.Duration(e.Sec)*time.Second + time.Duration(e.Usec)*time.Microsecond
}

// parseEvents decodes every complete event in buf. A trailing partial
// record is ignored.
func parseEvents(buf []byte) []rawEvent {
	n := len(buf) / rawEventSize
	out := make([]rawEvent, 0, n)
	r := bytes.NewReader(buf[:n*rawEventSize])
	for i := 0; i < n; i++ {
		var ev rawEvent
		if err := binary.Read(r, binary.LittleEndian, &ev); err != nil {
			break
		}
		out = append(out, ev)
	}
	return out
}

// frameDecoder assembles EV_ABS axis updates into one sample per
// SYN_REPORT. Axes that did not change keep their previous value, matching
// the kernel's delta reporting.
//
// After SYN_DROPPED every event up to and including the next SYN_REPORT is
// discarded, since the kernel may have lost part of that frame.
type frameDecoder struct {
	scale    float64
	current  motion.Vector
	dirty    bool
	dropping bool
}

func newFrameDecoder(scale float64) *frameDecoder {
	if scale == 0 {
		scale = 1
	}
	return &frameDecoder{scale: scale}
}

// feed consumes one event and returns a sample at the end of each frame
// that carried at least one axis update.
func (d *frameDecoder) feed(ev rawEvent) (motion.Sample, bool) {
	switch ev.Type {
	case evAbs:
		if d.dropping {
			return motion.Sample{}, false
		}
		v := float64(ev.Value) * d.scale
		switch ev.Code {
		case absX:
			d.current[0] = v
		case absY:
			d.current[1] = v
		case absZ:
			d.current[2] = v
		default:
			return motion.Sample{}, false
		}
		d.dirty = true

	case evSyn:
		switch {
		case ev.Code == synDropped:
			d.dropping = true
			d.dirty = false
			return motion.Sample{}, false
		case ev.Code != synReport:
			return motion.Sample{}, false
		case d.dropping:
			d.dropping = false
			return motion.Sample{}, false
		case !d.dirty:
			return motion.Sample{}, false
		}
		d.dirty = false
		return motion.Sample{
			X:       d.current[0],
			Y:       d.current[1],
			Z:       d.current[2],
			At:      ev.at(),
			Stamped: true,
		}, true
	}
	return motion.Sample{}, false
}
