package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/nfrund/chathub/internal/domain"
	"github.com/spf13/viper"
)

// Seed describes the users and rooms loaded into the in-memory stores at
// startup. Any format viper reads (yaml, json, toml) is accepted.
type Seed struct {
	Users []struct {
		ID       string `mapstructure:"id"`
		Username string `mapstructure:"username"`
		Role     string `mapstructure:"role"`
	} `mapstructure:"users"`
	Rooms []struct {
		ID      string `mapstructure:"id"`
		Name    string `mapstructure:"name"`
		Private bool   `mapstructure:"private"`
		Members []struct {
			User string `mapstructure:"user"`
			Role string `mapstructure:"role"`
		} `mapstructure:"members"`
	} `mapstructure:"rooms"`
}

// LoadSeed reads path and fills users and rooms. The first member listed for a
// room becomes its creator and admin; later members join in list order.
func LoadSeed(path string, users *Users, rooms *Rooms) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}
	return Apply(seed, users, rooms)
}

// Apply loads seed into the stores.
func Apply(seed Seed, users *Users, rooms *Rooms) error {
	for _, u := range seed.Users {
		role := domain.Role(u.Role)
		if !role.Valid() {
			role = domain.RoleUser
		}
		users.Put(domain.User{ID: u.ID, Username: u.Username, Role: role})
	}

	base := time.Now().UTC()
	for _, r := range seed.Rooms {
		if len(r.Members) == 0 {
			return fmt.Errorf("seed room %s has no members", r.ID)
		}
		room := domain.Room{ID: r.ID, Name: r.Name, Private: r.Private, CreatedAt: base}
		if err := rooms.CreateRoom(room, r.Members[0].User); err != nil {
			return fmt.Errorf("seed room %s: %w", r.ID, err)
		}
		for i, m := range r.Members[1:] {
			role := domain.RoomRole(m.Role)
			if role != domain.RoomRoleAdmin {
				role = domain.RoomRoleMember
			}
			err := rooms.AddMember(context.Background(), domain.Member{
				RoomID:   r.ID,
				UserID:   m.User,
				Role:     role,
				JoinedAt: base.Add(time.Duration(i+1) * time.Millisecond),
			})
			if err != nil {
				return fmt.Errorf("seed member %s of %s: %w", m.User, r.ID, err)
			}
		}
	}
	return nil
}
