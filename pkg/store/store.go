// Package store persists per-device capability profiles and the history of
// completed runs in a bbolt database.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"duplexscan/pkg/capability"
	"duplexscan/pkg/device"
	"duplexscan/pkg/serialization"

	"go.etcd.io/bbolt"
)

const (
	profileBucketName = "profiles"
	runBucketName     = "runs"

	recordVersion = 1
)

// Profile is the last negotiated capability set of a device.
type Profile struct {
	Device string
	Saved  time.Time

	HasResolution bool
	Resolution    float64
	HasPixelType  bool
	PixelType     device.PixelType
	HasDuplex     bool
	Duplex        bool
	HasPaperSize  bool
	PaperSize     device.PaperSize
}

// ProfileFromSnapshot keeps the supported current values of s.
func ProfileFromSnapshot(s capability.Snapshot, saved time.Time) Profile {
	return Profile{
		Device:        s.Device,
		Saved:         saved,
		HasResolution: s.Resolution.Supported,
		Resolution:    s.Resolution.Current,
		HasPixelType:  s.PixelType.Supported,
		PixelType:     s.PixelType.Current,
		HasDuplex:     s.Duplex.Supported,
		Duplex:        s.Duplex.Current,
		HasPaperSize:  s.PaperSize.Supported,
		PaperSize:     s.PaperSize.Current,
	}
}

// Snapshot returns the profile as a snapshot suitable for
// capability.Negotiator.Apply.
func (p Profile) Snapshot() capability.Snapshot {
	s := capability.Snapshot{Device: p.Device}
	s.Resolution.Supported, s.Resolution.Current = p.HasResolution, p.Resolution
	s.PixelType.Supported, s.PixelType.Current = p.HasPixelType, p.PixelType
	s.Duplex.Supported, s.Duplex.Current = p.HasDuplex, p.Duplex
	s.PaperSize.Supported, s.PaperSize.Current = p.HasPaperSize, p.PaperSize
	return s
}

// RunRecord summarises a completed run.
type RunRecord struct {
	ID         uint64 // history sequence, assigned by SaveRun
	RunID      string
	Device     string
	Started    time.Time
	Ended      time.Time
	Threshold  float64
	Resolution float64
	OutputDir  string
	Written    int
	Failed     int
	Stopped    bool
}

// DB defines the interface for profile and run history storage.
type DB interface {
	// SaveProfile replaces the profile of p.Device.
	SaveProfile(p Profile) error
	// LoadProfile returns the stored profile of a device, if any.
	LoadProfile(deviceName string) (Profile, bool, error)
	// SaveRun appends a run and assigns its ID.
	SaveRun(r *RunRecord) error
	// ListRuns returns every run in the order they were saved.
	ListRuns() ([]RunRecord, error)
	// Close closes the database connection.
	Close() error
}

// BoltDB implements DB using bbolt.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens or creates the database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{profileBucketName, runBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) SaveProfile(p Profile) error {
	data, err := encodeProfile(p)
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(profileBucketName)).Put([]byte(p.Device), data)
	})
}

func (b *BoltDB) LoadProfile(deviceName string) (Profile, bool, error) {
	var (
		p     Profile
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(profileBucketName)).Get([]byte(deviceName))
		if data == nil {
			return nil
		}
		found = true
		var err error
		p, err = decodeProfile(data)
		return err
	})
	if err != nil {
		return Profile{}, false, fmt.Errorf("loading profile %q: %w", deviceName, err)
	}
	return p, found, nil
}

func (b *BoltDB) SaveRun(r *RunRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(runBucketName))
		id, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		r.ID = id
		data, err := encodeRun(*r)
		if err != nil {
			return fmt.Errorf("encoding run: %w", err)
		}
		var key [8]byte
		binary.BigEndian.PutUint64(key[:], id)
		return bucket.Put(key[:], data)
	})
}

func (b *BoltDB) ListRuns() ([]RunRecord, error) {
	runs := make([]RunRecord, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runBucketName)).ForEach(func(k, v []byte) error {
			r, err := decodeRun(v)
			if err != nil {
				return fmt.Errorf("decoding run %x: %w", k, err)
			}
			runs = append(runs, r)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return runs, nil
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

func encodeProfile(p Profile) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUint64(recordVersion)
	s.WriteString(p.Device)
	s.WriteInt64(p.Saved.UnixNano())
	s.WriteBool(p.HasResolution)
	s.WriteFloat64(p.Resolution)
	s.WriteBool(p.HasPixelType)
	s.WriteInt64(int64(p.PixelType))
	s.WriteBool(p.HasDuplex)
	s.WriteBool(p.Duplex)
	s.WriteBool(p.HasPaperSize)
	s.WriteInt64(int64(p.PaperSize))
	return s.Bytes()
}

func decodeProfile(data []byte) (Profile, error) {
	d := serialization.NewDeserializer(data)
	if v := d.ReadUint64(); d.Err() == nil && v != recordVersion {
		return Profile{}, fmt.Errorf("unknown profile version %d", v)
	}
	p := Profile{Device: d.ReadString()}
	p.Saved = time.Unix(0, d.ReadInt64())
	p.HasResolution = d.ReadBool()
	p.Resolution = d.ReadFloat64()
	p.HasPixelType = d.ReadBool()
	p.PixelType = device.PixelType(d.ReadInt64())
	p.HasDuplex = d.ReadBool()
	p.Duplex = d.ReadBool()
	p.HasPaperSize = d.ReadBool()
	p.PaperSize = device.PaperSize(d.ReadInt64())
	return p, d.Err()
}

func encodeRun(r RunRecord) ([]byte, error) {
	s := serialization.NewSerializer()
	s.WriteUint64(recordVersion)
	s.WriteUint64(r.ID)
	s.WriteString(r.RunID)
	s.WriteString(r.Device)
	s.WriteInt64(r.Started.UnixNano())
	s.WriteInt64(r.Ended.UnixNano())
	s.WriteFloat64(r.Threshold)
	s.WriteFloat64(r.Resolution)
	s.WriteString(r.OutputDir)
	s.WriteInt64(int64(r.Written))
	s.WriteInt64(int64(r.Failed))
	s.WriteBool(r.Stopped)
	return s.Bytes()
}

func decodeRun(data []byte) (RunRecord, error) {
	d := serialization.NewDeserializer(data)
	if v := d.ReadUint64(); d.Err() == nil && v != recordVersion {
		return RunRecord{}, fmt.Errorf("unknown run version %d", v)
	}
	r := RunRecord{ID: d.ReadUint64(), RunID: d.ReadString(), Device: d.ReadString()}
	r.Started = time.Unix(0, d.ReadInt64())
	r.Ended = time.Unix(0, d.ReadInt64())
	r.Threshold = d.ReadFloat64()
	r.Resolution = d.ReadFloat64()
	r.OutputDir = d.ReadString()
	r.Written = int(d.ReadInt64())
	r.Failed = int(d.ReadInt64())
	r.Stopped = d.ReadBool()
	return r, d.Err()
}
