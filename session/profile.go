package session

import "encoding/json"

// UserProfile is the display-only snapshot of the authenticated user, captured
// at login from the identity provider's claims. The UI reads it, nothing in
// the session core interprets it. Claims beyond the three well-known ones are
// carried opaquely in Extra and survive a persist/load round trip.
type UserProfile struct {
	Name    string
	Email   string
	Picture string
	Extra   map[string]any
}

func (p UserProfile) MarshalJSON() ([]byte, error) {
	claims := make(map[string]any, len(p.Extra)+3)
	for k, v := range p.Extra {
		claims[k] = v
	}
	if p.Name != "" {
		claims["name"] = p.Name
	}
	if p.Email != "" {
		claims["email"] = p.Email
	}
	if p.Picture != "" {
		claims["picture"] = p.Picture
	}
	return json.Marshal(claims)
}

func (p *UserProfile) UnmarshalJSON(data []byte) error {
	claims := make(map[string]any)
	if err := json.Unmarshal(data, &claims); err != nil {
		return err
	}
	*p = ProfileFromClaims(claims)
	return nil
}

// ProfileFromClaims builds a UserProfile from a raw claim map, splitting the
// well-known display claims out of the opaque remainder.
func ProfileFromClaims(claims map[string]any) UserProfile {
	p := UserProfile{}
	if v, ok := claims["name"].(string); ok {
		p.Name = v
	}
	if v, ok := claims["email"].(string); ok {
		p.Email = v
	}
	if v, ok := claims["picture"].(string); ok {
		p.Picture = v
	}
	for k, v := range claims {
		switch k {
		case "name", "email", "picture":
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]any)
			}
			p.Extra[k] = v
		}
	}
	return p
}
