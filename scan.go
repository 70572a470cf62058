package edoc

import (
	"bytes"

	"go.uber.org/zap"
)

const (
	debugLogRawScans = false
)

// RawRange defines a range of byte strings within a bucket.
type RawRange struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
	Reverse  bool
}

func RawPrefix(p []byte) RawRange                { return RawRange{Prefix: p} }
func (rang RawRange) Prefixed(p []byte) RawRange { rang.Prefix = p; return rang }
func (rang RawRange) Reversed() RawRange         { rang.Reverse = true; return rang }

func (r *RawRange) start(bcur storageCursor, logger *zap.Logger) ([]byte, []byte) {
	var k, v []byte
	var skipInitial bool
	if r.Reverse {
		upper := r.Upper
		if upper != nil {
			skipInitial = !r.UpperInc
			if r.Prefix != nil && !bytes.HasPrefix(upper, r.Prefix) {
				panic("upper bound does not match prefix")
			}
		} else if r.Prefix != nil {
			upper = r.Prefix
		}
		if upper != nil {
			k, v = bcur.SeekLast(upper)
			if debugLogRawScans {
				logger.Debug("SEEK to upper", hexField("upper", upper), hexField("key", k))
			}
			if skipInitial && !bytes.HasPrefix(k, upper) {
				skipInitial = false
			}
		} else {
			k, v = bcur.Last()
			if debugLogRawScans {
				logger.Debug("LAST", hexField("key", k))
			}
		}
	} else {
		lower := r.Lower
		if lower != nil {
			skipInitial = !r.LowerInc
			if r.Prefix != nil && !bytes.HasPrefix(lower, r.Prefix) {
				panic("lower bound does not match prefix")
			}
		} else if r.Prefix != nil {
			lower = r.Prefix
		}
		if lower != nil {
			k, v = bcur.Seek(lower)
			if debugLogRawScans {
				logger.Debug("SEEK to lower", hexField("lower", lower), hexField("key", k))
			}
			if skipInitial && !bytes.HasPrefix(k, lower) {
				skipInitial = false
			}
		} else {
			k, v = bcur.First()
			if debugLogRawScans {
				logger.Debug("FIRST", hexField("key", k))
			}
		}
	}
	if k != nil && r.match(k, logger) {
		if skipInitial {
			return r.next(bcur, logger)
		}
		return k, v
	}
	return nil, nil
}

func (r *RawRange) next(bcur storageCursor, logger *zap.Logger) ([]byte, []byte) {
	var k, v []byte
	if r.Reverse {
		k, v = bcur.Prev()
	} else {
		k, v = bcur.Next()
	}
	if debugLogRawScans {
		logger.Debug("ADVANCE", zap.Bool("reverse", r.Reverse), hexField("key", k))
	}
	if k != nil && r.match(k, logger) {
		return k, v
	}
	return nil, nil
}

func (r *RawRange) match(k []byte, logger *zap.Logger) bool {
	if r.Prefix != nil && !bytes.HasPrefix(k, r.Prefix) {
		if debugLogRawScans {
			logger.Debug("BAIL on prefix", hexField("prefix", r.Prefix), hexField("key", k))
		}
		return false
	}
	if r.Reverse {
		if lower := r.Lower; lower != nil {
			cmp := bytes.Compare(k, lower)
			if cmp == -1 || (cmp == 0 && !r.LowerInc) {
				return false
			}
		}
	} else {
		if upper := r.Upper; upper != nil {
			cmp := bytes.Compare(k, upper)
			if cmp == 1 || (cmp == 0 && !r.UpperInc) {
				return false
			}
		}
	}
	return true
}

func (rang *RawRange) newCursor(bcur storageCursor, logger *zap.Logger) *RawRangeCursor {
	return &RawRangeCursor{rang: *rang, bcur: bcur, logger: logger}
}

// RawRangeCursor walks the keys of a bucket that fall into a RawRange.
type RawRangeCursor struct {
	rang   RawRange
	bcur   storageCursor
	logger *zap.Logger
	k, v   []byte
	init   bool
}

func (c *RawRangeCursor) Next() bool {
	if c.init {
		c.k, c.v = c.rang.next(c.bcur, c.logger)
	} else {
		c.init = true
		c.k, c.v = c.rang.start(c.bcur, c.logger)
	}
	return c.k != nil
}

func (c *RawRangeCursor) Key() []byte   { return c.k }
func (c *RawRangeCursor) Value() []byte { return c.v }
