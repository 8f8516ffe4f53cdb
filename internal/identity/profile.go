package identity

import "strings"

const (
	nicknameKey     = "nickname"
	neighborhoodKey = "neighborhood"
)

// Profile is the remembered author identity prefilled into new submissions.
type Profile struct {
	Nickname     string
	Neighborhood string
}

// LoadProfile reads the remembered profile. Missing values load as empty strings.
func LoadProfile(storage Storage) (Profile, error) {
	nickname, err := storage.Load(nicknameKey)
	if err != nil {
		return Profile{}, err
	}
	neighborhood, err := storage.Load(neighborhoodKey)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Nickname: nickname, Neighborhood: neighborhood}, nil
}

// SaveProfile remembers the non-empty fields of the profile.
func SaveProfile(storage Storage, profile Profile) error {
	if nickname := strings.TrimSpace(profile.Nickname); nickname != "" {
		if err := storage.Store(nicknameKey, nickname); err != nil {
			return err
		}
	}
	if neighborhood := strings.TrimSpace(profile.Neighborhood); neighborhood != "" {
		if err := storage.Store(neighborhoodKey, neighborhood); err != nil {
			return err
		}
	}
	return nil
}

// Merge fills empty fields of p from fallback.
func (p Profile) Merge(fallback Profile) Profile {
	if strings.TrimSpace(p.Nickname) == "" {
		p.Nickname = fallback.Nickname
	}
	if strings.TrimSpace(p.Neighborhood) == "" {
		p.Neighborhood = fallback.Neighborhood
	}
	return p
}
