package places

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/markus-lassfolk/livedatabus/pkg/livedata"
	"github.com/markus-lassfolk/livedatabus/pkg/location"
	"github.com/markus-lassfolk/livedatabus/pkg/logx"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig configures a SQLiteRepository.
type SQLiteConfig struct {
	DatabasePath string        `json:"database_path"`
	SearchRadius float64       `json:"search_radius_m"`
	MaxResults   int           `json:"max_results"`
	Timeout      time.Duration `json:"timeout"`

	Executor livedata.Executor `json:"-"`
}

// DefaultSQLiteConfig returns the configuration used by the daemon.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		DatabasePath: "/var/lib/livedatabus/places.db",
		SearchRadius: 500,
		MaxResults:   10,
		Timeout:      5 * time.Second,
	}
}

// SQLiteRepository looks places up in a local SQLite table.
type SQLiteRepository struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *logx.Logger
}

// NewSQLiteRepository opens the database and creates the schema.
func NewSQLiteRepository(config *SQLiteConfig, logger *logx.Logger) (*SQLiteRepository, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}

	if err := os.MkdirAll(filepath.Dir(config.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	repo := &SQLiteRepository{db: db, config: config, logger: logger}
	if err := repo.initializeDatabase(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	logger.Info("places database initialized",
		"database_path", config.DatabasePath,
		"search_radius_m", config.SearchRadius,
	)
	return repo, nil
}

func (r *SQLiteRepository) initializeDatabase() error {
	_, err := r.db.Exec(`
	CREATE TABLE IF NOT EXISTS places (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		latitude REAL NOT NULL,
		longitude REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_places_lat_lon ON places(latitude, longitude);
	`)
	return err
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Add stores a place and returns its id.
func (r *SQLiteRepository) Add(ctx context.Context, name, address string, lat, lon float64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO places (name, address, latitude, longitude) VALUES (?, ?, ?, ?)`,
		name, address, lat, lon)
	if err != nil {
		return 0, fmt.Errorf("failed to insert place: %w", err)
	}
	return res.LastInsertId()
}

// Lookup returns the places within the search radius of s, nearest first.
func (r *SQLiteRepository) Lookup(ctx context.Context, s location.Sample) ([]Place, error) {
	minLat, minLon, maxLat, maxLon := location.BoundingBox(s, r.config.SearchRadius)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, address, latitude, longitude
		FROM places
		WHERE latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, fmt.Errorf("failed to query places: %w", err)
	}
	defer rows.Close()

	var found []Place
	for rows.Next() {
		var (
			id       int64
			p        Place
			lat, lon float64
		)
		if err := rows.Scan(&id, &p.Name, &p.Address, &lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		p.ID = strconv.FormatInt(id, 10)
		p.Location = location.Sample{Timestamp: s.Timestamp, Latitude: lat, Longitude: lon, Provider: s.Provider}
		p.Distance = location.DistanceMeters(s, p.Location)
		if p.Distance > r.config.SearchRadius {
			continue
		}
		found = append(found, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read places: %w", err)
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].Distance < found[j].Distance })
	if r.config.MaxResults > 0 && len(found) > r.config.MaxResults {
		found = found[:r.config.MaxResults]
	}
	return found, nil
}

// Find implements Repository.
func (r *SQLiteRepository) Find(s location.Sample) livedata.Observable[Place] {
	return lookupAsync(r.Lookup, s, r.config.Timeout, r.config.Executor, r.logger, "sqlite_places")
}
