// Package history persists completed calibrations so the daemon can answer
// "what did we last learn about this device" without re-running a wizard,
// and so the drift check has a stored center to compare against.
package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS calibrations (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_path    TEXT    NOT NULL,
	vendor_id      INTEGER NOT NULL,
	product_id     INTEGER NOT NULL,
	axis           TEXT    NOT NULL,
	byte_offset    INTEGER NOT NULL,
	bit_width      INTEGER NOT NULL,
	score          REAL    NOT NULL,
	center         INTEGER NOT NULL DEFAULT 0,
	half_range     INTEGER NOT NULL DEFAULT 0,
	low_confidence INTEGER NOT NULL DEFAULT 0,
	created_at     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calibrations_device_axis
	ON calibrations (vendor_id, product_id, axis, created_at DESC);
`

// Record is one stored calibration result.
type Record struct {
	ID            int64     `json:"id"`
	DevicePath    string    `json:"devicePath"`
	VendorID      uint16    `json:"vendorId"`
	ProductID     uint16    `json:"productId"`
	Axis          string    `json:"axis"`
	Offset        int       `json:"offset"`
	Width         int       `json:"width"`
	Score         float64   `json:"score"`
	Center        int       `json:"center,omitempty"`
	HalfRange     int       `json:"halfRange,omitempty"`
	LowConfidence bool      `json:"lowConfidence,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Store is a sqlite-backed calibration log.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the store at the given path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to create history directory %s", dir)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open history db %s", path)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, pkgerrors.Wrap(err, "failed to initialize history schema")
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores a completed calibration and returns its row id.
func (s *Store) Insert(r Record) (int64, error) {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO calibrations
			(device_path, vendor_id, product_id, axis, byte_offset, bit_width,
			 score, center, half_range, low_confidence, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.DevicePath, r.VendorID, r.ProductID, r.Axis, r.Offset, r.Width,
		r.Score, r.Center, r.HalfRange, boolToInt(r.LowConfidence),
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, pkgerrors.Wrap(err, "failed to insert calibration record")
	}
	return res.LastInsertId()
}

// Recent returns the most recent records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, device_path, vendor_id, product_id, axis, byte_offset,
		       bit_width, score, center, half_range, low_confidence, created_at
		FROM calibrations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to query calibration history")
	}
	defer rows.Close()
	return scanRecords(rows)
}

// LatestFor returns the newest record for a device axis, if one exists.
func (s *Store) LatestFor(vid, pid uint16, axis string) (Record, bool, error) {
	rows, err := s.db.Query(`
		SELECT id, device_path, vendor_id, product_id, axis, byte_offset,
		       bit_width, score, center, half_range, low_confidence, created_at
		FROM calibrations
		WHERE vendor_id = ? AND product_id = ? AND axis = ?
		ORDER BY id DESC LIMIT 1`, vid, pid, axis)
	if err != nil {
		return Record{}, false, pkgerrors.Wrap(err, "failed to query calibration history")
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return Record{}, false, err
	}
	if len(recs) == 0 {
		return Record{}, false, nil
	}
	return recs[0], true, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		var r Record
		var low int
		var createdAt string
		if err := rows.Scan(&r.ID, &r.DevicePath, &r.VendorID, &r.ProductID,
			&r.Axis, &r.Offset, &r.Width, &r.Score, &r.Center, &r.HalfRange,
			&low, &createdAt); err != nil {
			return nil, pkgerrors.Wrap(err, "failed to scan calibration record")
		}
		r.LowConfidence = low != 0
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
