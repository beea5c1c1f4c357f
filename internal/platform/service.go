package platform

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrMissingInput     = errors.New("input is required")
	ErrResolverNil      = errors.New("resolver is not configured")
	ErrSpotifyClientNil = errors.New("spotify client is not configured")
)

// Service routes an incoming link or free-text query to the right client and
// returns a single playable Track. Spotify and saavn carry their own metadata
// APIs; everything else goes through yt-dlp.
type Service struct {
	resolver *Resolver
	spotify  *SpotifyClient
	saavn    *SaavnClient
}

func NewService(resolver *Resolver, spotify *SpotifyClient, saavn *SaavnClient) *Service {
	return &Service{
		resolver: resolver,
		spotify:  spotify,
		saavn:    saavn,
	}
}

func (s *Service) WithSpotify(client *SpotifyClient) *Service {
	s.spotify = client
	return s
}

// ResolveInput turns a URL or search query into a playable track.
func (s *Service) ResolveInput(ctx context.Context, input string, requestedBy string) (Track, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Track{}, ErrMissingInput
	}
	if s.resolver == nil {
		return Track{}, ErrResolverNil
	}

	if isSpotifyInput(input) {
		track, err := s.resolveSpotify(ctx, input)
		if err != nil {
			return Track{}, err
		}
		track.RequestedBy = requestedBy
		return track, nil
	}

	if s.saavn != nil && s.saavn.IsSong(input) {
		track, err := s.saavn.ResolveSong(ctx, input)
		if err != nil {
			return Track{}, err
		}
		track.RequestedBy = requestedBy
		return track, nil
	}

	hint := TrackSourceUnknown
	if looksLikeURL(input) {
		hint = detectSourceFromURL(input)
	}

	track, err := s.resolver.Resolve(ctx, input, hint)
	if err != nil {
		return Track{}, err
	}
	track.RequestedBy = requestedBy
	return track, nil
}

// ResolvePlaylist expands a saavn playlist or album link into its tracks.
func (s *Service) ResolvePlaylist(ctx context.Context, input string, limit int, requestedBy string) ([]Track, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, ErrMissingInput
	}
	if s.saavn == nil || !s.saavn.IsPlaylist(input) {
		return nil, ErrSaavnResolveFailed
	}

	tracks, err := s.saavn.Playlist(ctx, input, limit)
	if err != nil {
		return nil, err
	}
	for i := range tracks {
		tracks[i].RequestedBy = requestedBy
	}
	return tracks, nil
}

// resolveSpotify looks up the track on spotify, then finds a playable
// YouTube stream for the resolved title. Spotify itself cannot be streamed.
func (s *Service) resolveSpotify(ctx context.Context, input string) (Track, error) {
	if s.spotify == nil {
		return Track{}, ErrSpotifyClientNil
	}

	spotifyTrack, err := s.spotify.ResolveTrack(ctx, input)
	if err != nil {
		return Track{}, err
	}

	playable, err := s.resolver.Resolve(ctx, spotifyTrack.Title, TrackSourceYouTube)
	if err != nil {
		return Track{}, err
	}

	playable.Title = spotifyTrack.Title
	if spotifyTrack.Thumbnail != "" {
		playable.Thumbnail = spotifyTrack.Thumbnail
	}
	return playable, nil
}

func (s *Service) Resolver() *Resolver { return s.resolver }

func isSpotifyInput(input string) bool {
	lower := strings.ToLower(input)
	return strings.Contains(lower, "spotify.com") || strings.HasPrefix(lower, "spotify:track:")
}
