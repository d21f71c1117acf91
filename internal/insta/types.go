package insta

// Media is the subset of the publish response this tool uses. Code is the
// shortcode that forms the public post URL; it may be empty when the API
// accepts the clip but returns no addressable id.
type Media struct {
	ID   string `json:"pk"`
	Code string `json:"code"`
}

// Account holds the fields of the authenticated user's profile that the
// profile command and endpoint render.
type Account struct {
	Username       string `json:"username"`
	FullName       string `json:"full_name"`
	Biography      string `json:"biography"`
	IsPrivate      bool   `json:"is_private"`
	MediaCount     int64  `json:"media_count"`
	FollowerCount  int64  `json:"follower_count"`
	FollowingCount int64  `json:"following_count"`
}

// apiResponse is the common envelope around private API responses.
type apiResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type loginResponse struct {
	apiResponse
	Authorization string `json:"authorization"`
	LoggedInUser  *struct {
		Username string `json:"username"`
	} `json:"logged_in_user"`
}

type accountInfoResponse struct {
	apiResponse
	User *Account `json:"user"`
}

type publishResponse struct {
	apiResponse
	Media *Media `json:"media"`
}
