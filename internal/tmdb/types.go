package tmdb

// Wire records for the metadata API. Decoding into typed records and
// re-encoding before caching normalizes payloads to the fields the
// application reads, so response bloat never reaches the store.

// Genre is one genre tag on a movie or show
type Genre struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// CastMember is one billed cast credit
type CastMember struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Character   string `json:"character"`
	ProfilePath string `json:"profile_path"`
	Order       int    `json:"order"`
}

// CrewMember is one crew credit
type CrewMember struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Job        string `json:"job"`
	Department string `json:"department"`
}

// Credits holds the cast and crew of a title
type Credits struct {
	Cast []CastMember `json:"cast"`
	Crew []CrewMember `json:"crew"`
}

// Video is one trailer, teaser, or clip
type Video struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	Site     string `json:"site"`
	Type     string `json:"type"`
	Official bool   `json:"official"`
}

// VideoList wraps the videos endpoint payload
type VideoList struct {
	Results []Video `json:"results"`
}

// Provider is one streaming, rental, or purchase provider
type Provider struct {
	ProviderID      int64  `json:"provider_id"`
	ProviderName    string `json:"provider_name"`
	LogoPath        string `json:"logo_path"`
	DisplayPriority int    `json:"display_priority"`
}

// CountryProviders groups providers by offer type for one country
type CountryProviders struct {
	Link     string     `json:"link"`
	Flatrate []Provider `json:"flatrate,omitempty"`
	Rent     []Provider `json:"rent,omitempty"`
	Buy      []Provider `json:"buy,omitempty"`
}

// ProviderTable maps ISO country codes to available providers
type ProviderTable struct {
	Results map[string]CountryProviders `json:"results"`
}

// MediaSummary is one row of a list, search, or related-titles page.
// Movie rows carry Title/ReleaseDate, TV rows Name/FirstAirDate.
type MediaSummary struct {
	ID           int64   `json:"id"`
	MediaType    string  `json:"media_type,omitempty"`
	Title        string  `json:"title,omitempty"`
	Name         string  `json:"name,omitempty"`
	PosterPath   string  `json:"poster_path"`
	ReleaseDate  string  `json:"release_date,omitempty"`
	FirstAirDate string  `json:"first_air_date,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
}

// ListPage is one page of summaries
type ListPage struct {
	Page         int            `json:"page"`
	Results      []MediaSummary `json:"results"`
	TotalPages   int            `json:"total_pages"`
	TotalResults int64          `json:"total_results"`
}

// Movie is a full movie record. The appended sub-resources are present
// only on full (non-essential) detail fetches.
type Movie struct {
	ID           int64   `json:"id"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview"`
	Tagline      string  `json:"tagline,omitempty"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	ReleaseDate  string  `json:"release_date"`
	Runtime      int     `json:"runtime"`
	Status       string  `json:"status,omitempty"`
	VoteAverage  float64 `json:"vote_average"`
	VoteCount    int64   `json:"vote_count"`
	Genres       []Genre `json:"genres,omitempty"`

	Credits         *Credits       `json:"credits,omitempty"`
	Videos          *VideoList     `json:"videos,omitempty"`
	WatchProviders  *ProviderTable `json:"watch/providers,omitempty"`
	Similar         *ListPage      `json:"similar,omitempty"`
	Recommendations *ListPage      `json:"recommendations,omitempty"`
}

// TVShow is a full TV record, shaped like Movie with series fields
type TVShow struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	Overview         string  `json:"overview"`
	Tagline          string  `json:"tagline,omitempty"`
	PosterPath       string  `json:"poster_path"`
	BackdropPath     string  `json:"backdrop_path"`
	FirstAirDate     string  `json:"first_air_date"`
	LastAirDate      string  `json:"last_air_date,omitempty"`
	NumberOfSeasons  int     `json:"number_of_seasons"`
	NumberOfEpisodes int     `json:"number_of_episodes"`
	EpisodeRunTime   []int   `json:"episode_run_time,omitempty"`
	Status           string  `json:"status,omitempty"`
	VoteAverage      float64 `json:"vote_average"`
	VoteCount        int64   `json:"vote_count"`
	Genres           []Genre `json:"genres,omitempty"`

	Credits         *Credits       `json:"credits,omitempty"`
	Videos          *VideoList     `json:"videos,omitempty"`
	WatchProviders  *ProviderTable `json:"watch/providers,omitempty"`
	Similar         *ListPage      `json:"similar,omitempty"`
	Recommendations *ListPage      `json:"recommendations,omitempty"`
}

// apiStatus is the error body the metadata API returns on failures
type apiStatus struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
}
