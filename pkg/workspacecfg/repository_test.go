package workspacecfg

import "testing"

func TestNewRepository_DerivesPathFromURL(t *testing.T) {
	repo, err := NewRepository("https://github.com/acme/widgets.git", "", "")
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	if repo.Path != "acme/widgets" {
		t.Errorf("Path = %q, want %q", repo.Path, "acme/widgets")
	}
}

func TestNewRepository_ExplicitPathWins(t *testing.T) {
	repo, err := NewRepository("https://github.com/acme/widgets.git", "custom/dir", "develop")
	if err != nil {
		t.Fatalf("NewRepository() error = %v", err)
	}
	if repo.Path != "custom/dir" {
		t.Errorf("Path = %q, want %q", repo.Path, "custom/dir")
	}
	if repo.Reference != "develop" {
		t.Errorf("Reference = %q, want %q", repo.Reference, "develop")
	}
}

func TestNewRepository_RejectsNonHTTPS(t *testing.T) {
	tests := []string{
		"git@github.com:acme/widgets.git",
		"ssh://git@github.com/acme/widgets.git",
		"http://github.com/acme/widgets.git",
	}
	for _, url := range tests {
		if _, err := NewRepository(url, "", ""); err == nil {
			t.Errorf("NewRepository(%q) should reject a non-https url", url)
		}
	}
}

func TestRepositoryFromURL(t *testing.T) {
	repo, err := RepositoryFromURL("https://github.com/acme/widgets.git")
	if err != nil {
		t.Fatalf("RepositoryFromURL() error = %v", err)
	}
	if repo.URL != "https://github.com/acme/widgets.git" {
		t.Errorf("URL = %q", repo.URL)
	}
	if repo.Path != "acme/widgets" {
		t.Errorf("Path = %q, want %q", repo.Path, "acme/widgets")
	}
	if repo.Reference != "" {
		t.Errorf("Reference = %q, want empty", repo.Reference)
	}
}

func TestRepository_DisplayName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/acme/widgets.git", "https://github.com/acme/widgets"},
		{"https://github.com/acme/widgets", "https://github.com/acme/widgets"},
	}
	for _, tt := range tests {
		repo := Repository{URL: tt.url}
		if got := repo.DisplayName(); got != tt.want {
			t.Errorf("DisplayName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
