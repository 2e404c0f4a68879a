package sink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"igcrawler/pkg/logger"
	"igcrawler/pkg/models"
	"igcrawler/pkg/retry"
)

const createProfilesTable = `CREATE TABLE IF NOT EXISTS profiles (
	username        TEXT PRIMARY KEY,
	pk              BIGINT,
	full_name       TEXT,
	biography       TEXT,
	category        TEXT,
	is_private      BOOLEAN,
	is_verified     BOOLEAN,
	is_business     BOOLEAN,
	follower_count  INTEGER,
	following_count INTEGER,
	media_count     INTEGER,
	external_url    TEXT,
	profile_pic_url TEXT,
	collected_at    TIMESTAMPTZ
)`

const createPostsTable = `CREATE TABLE IF NOT EXISTS posts (
	id            TEXT PRIMARY KEY,
	user_pk       BIGINT,
	username      TEXT,
	caption       TEXT,
	like_count    INTEGER,
	comment_count INTEGER,
	taken_at      TIMESTAMPTZ,
	media_type    INTEGER,
	product_type  TEXT,
	image_url     TEXT,
	video_url     TEXT
)`

const upsertProfile = `INSERT INTO profiles
	(username, pk, full_name, biography, category, is_private, is_verified, is_business,
	 follower_count, following_count, media_count, external_url, profile_pic_url, collected_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (username) DO UPDATE
	SET pk = EXCLUDED.pk,
		full_name = EXCLUDED.full_name,
		biography = EXCLUDED.biography,
		category = EXCLUDED.category,
		is_private = EXCLUDED.is_private,
		is_verified = EXCLUDED.is_verified,
		is_business = EXCLUDED.is_business,
		follower_count = EXCLUDED.follower_count,
		following_count = EXCLUDED.following_count,
		media_count = EXCLUDED.media_count,
		external_url = EXCLUDED.external_url,
		profile_pic_url = EXCLUDED.profile_pic_url,
		collected_at = EXCLUDED.collected_at`

const upsertPost = `INSERT INTO posts
	(id, user_pk, username, caption, like_count, comment_count, taken_at, media_type,
	 product_type, image_url, video_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE
	SET user_pk = EXCLUDED.user_pk,
		username = EXCLUDED.username,
		caption = EXCLUDED.caption,
		like_count = EXCLUDED.like_count,
		comment_count = EXCLUDED.comment_count,
		taken_at = EXCLUDED.taken_at,
		media_type = EXCLUDED.media_type,
		product_type = EXCLUDED.product_type,
		image_url = EXCLUDED.image_url,
		video_url = EXCLUDED.video_url`

// PostgresSink upserts records into the profiles and posts tables.
type PostgresSink struct {
	db     *sql.DB
	logger logger.Logger
}

// NewPostgresSink connects to dsn, waits for the database to answer and
// creates the tables if they are missing.
func NewPostgresSink(ctx context.Context, dsn string, log logger.Logger) (*PostgresSink, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres sink needs sink.postgres.dsn")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	log = logger.ForComponent(log, "sink.postgres")

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	log.Info("connecting to the database")
	pingCfg := &retry.Config{
		MaxAttempts: 6,
		Backoff:     retry.DefaultBackoff(),
		RetryIf:     retry.DefaultRetryIf,
		Logger:      log,
	}
	if err := retry.Do(ctx, db.PingContext, pingCfg); err != nil {
		db.Close()
		return nil, fmt.Errorf("database is not responding: %w", err)
	}

	s := &PostgresSink{db: db, logger: log}
	if err := s.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Info("connected to the database")
	return s, nil
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	for _, stmt := range []string{createProfilesTable, createPostsTable} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Write upserts the whole batch in one transaction.
func (s *PostgresSink) Write(ctx context.Context, profiles []models.Profile, posts []models.Post) error {
	if len(profiles) == 0 && len(posts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(profiles) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertProfile)
		if err != nil {
			return fmt.Errorf("failed to prepare profile upsert: %w", err)
		}
		defer stmt.Close()
		for _, p := range profiles {
			if _, err := stmt.ExecContext(ctx, profileArgs(p)...); err != nil {
				return fmt.Errorf("failed to upsert profile %s: %w", p.Username, err)
			}
		}
	}

	if len(posts) > 0 {
		stmt, err := tx.PrepareContext(ctx, upsertPost)
		if err != nil {
			return fmt.Errorf("failed to prepare post upsert: %w", err)
		}
		defer stmt.Close()
		for _, p := range posts {
			if _, err := stmt.ExecContext(ctx, postArgs(p)...); err != nil {
				return fmt.Errorf("failed to upsert post %s: %w", p.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.DebugWithFields("records upserted", map[string]interface{}{
		"profiles": len(profiles),
		"posts":    len(posts),
	})
	return nil
}

func (s *PostgresSink) Close() error {
	s.logger.Info("closing database connection")
	return s.db.Close()
}

func profileArgs(p models.Profile) []interface{} {
	return []interface{}{
		p.Username, p.PK, p.FullName, p.Biography, p.Category,
		p.IsPrivate, p.IsVerified, p.IsBusiness,
		p.FollowerCount, p.FollowingCount, p.MediaCount,
		p.ExternalURL, p.ProfilePicURL, nullTime(p.CollectedAt),
	}
}

func postArgs(p models.Post) []interface{} {
	return []interface{}{
		p.ID, p.UserPK, p.Username, p.Caption, p.LikeCount, p.CommentCount,
		nullTime(p.TakenAt), p.MediaType, p.ProductType, p.ImageURL, p.VideoURL,
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
