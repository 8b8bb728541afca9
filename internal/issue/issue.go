package issue

// User is an account reference on an item.
type User struct {
	Login string `json:"login"`
}

// Label is a repository label attached to an item.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Item is one issue or pull request returned by the search endpoint.
type Item struct {
	ID        int64   `json:"id"`
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	HTMLURL   string  `json:"html_url"`
	Body      string  `json:"body,omitempty"`
	State     string  `json:"state,omitempty"`
	User      *User   `json:"user,omitempty"`
	Labels    []Label `json:"labels,omitempty"`
	Assignees []User  `json:"assignees,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// AuthorLogin returns the author's login, or "" when unknown.
func (it Item) AuthorLogin() string {
	if it.User == nil {
		return ""
	}
	return it.User.Login
}

// LabelNames returns the item's label names in their given order.
func (it Item) LabelNames() []string {
	names := make([]string, 0, len(it.Labels))
	for _, l := range it.Labels {
		names = append(names, l.Name)
	}
	return names
}

// SearchResult is the search endpoint's response.
type SearchResult struct {
	TotalCount        int    `json:"total_count"`
	IncompleteResults bool   `json:"incomplete_results,omitempty"`
	Items             []Item `json:"items"`
}
