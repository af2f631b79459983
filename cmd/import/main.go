// import loads user documents from a JSON file into the users database.
// Plaintext passwords in the input are replaced with PBKDF2 credentials so
// the store never sees them.
// Run: go run ./cmd/import -file users.json
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/couchgate/couchgate/internal/couch"
	"github.com/couchgate/couchgate/internal/domain"
	"github.com/couchgate/couchgate/internal/infrastructure/couchdb"
	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 10
	pbkdf2KeyLen     = 20
	saltLen          = 16
)

func main() {
	file := flag.String("file", "", "path to a JSON array of user documents")
	usersDB := flag.String("db", envOr("USERS_DB", "_users"), "users database name")
	flag.Parse()

	if *file == "" {
		log.Fatal("-file is required")
	}

	couchURL := os.Getenv("COUCHDB_URL")
	couchAuth := os.Getenv("COUCHDB_AUTH")
	if couchURL == "" || couchAuth == "" {
		log.Fatal("COUCHDB_URL and COUCHDB_AUTH are required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}

	var users []*domain.User
	if err := json.Unmarshal(data, &users); err != nil {
		log.Fatalf("parse %s: %v", *file, err)
	}
	if len(users) == 0 {
		log.Fatal("no users in input")
	}

	for _, u := range users {
		if u.Name == "" {
			log.Fatalf("user without a name: %+v", u)
		}
		u.ID = domain.DocID(u.Name)
		u.Type = "user"
		if u.Roles == nil {
			u.Roles = []string{}
		}
		if u.Password != "" {
			if err := hashPassword(u); err != nil {
				log.Fatalf("hash password for %s: %v", u.Name, err)
			}
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	client := couch.NewClient(couchURL, couchAuth, logger)
	repo := couchdb.NewUserRepository(client, *usersDB)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	results, err := repo.BulkSave(ctx, users)
	if err != nil {
		log.Fatalf("bulk save: %v", err)
	}

	var ok, failed int
	for _, res := range results {
		if res.Error != "" {
			failed++
			fmt.Printf("  %s: %s (%s)\n", res.ID, res.Error, res.Reason)
			continue
		}
		ok++
	}

	fmt.Println("Import complete")
	fmt.Printf("  Imported: %d\n", ok)
	fmt.Printf("  Failed:   %d\n", failed)
}

// hashPassword replaces the plaintext password with the store's PBKDF2
// scheme: a random salt and a SHA-1 derived key.
func hashPassword(u *domain.User) error {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return err
	}

	key := pbkdf2.Key([]byte(u.Password), []byte(hex.EncodeToString(salt)), pbkdf2Iterations, pbkdf2KeyLen, sha1.New)

	u.Salt = hex.EncodeToString(salt)
	u.DerivedKey = hex.EncodeToString(key)
	u.Iterations = pbkdf2Iterations
	u.PasswordScheme = "pbkdf2"
	u.Password = ""
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
