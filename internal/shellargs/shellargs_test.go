package shellargs

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"quoted value", `-e "VAR=value with spaces" --name test`, []string{"-e", "VAR=value with spaces", "--name", "test"}},
		{"plain", "-v /dev:/dev", []string{"-v", "/dev:/dev"}},
		{"extra whitespace", "  --privileged \t --net=host  ", []string{"--privileged", "--net=host"}},
		{"quotes inside token", `--label="a b"`, []string{"--label=a b"}},
		{"empty quotes", `-e ""`, []string{"-e", ""}},
		{"single quotes are literal", `'a b'`, []string{"'a", "b'"}},
		{"empty", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Split(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Split(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitAll(t *testing.T) {
	got := SplitAll([]string{"-v /a:/b", "--privileged"})
	want := []string{"-v", "/a:/b", "--privileged"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v", got)
	}
}

func TestExpand(t *testing.T) {
	env := map[string]string{"HOME": "/home/dev", "USER_ID": "1000"}
	lookup := func(k string) string { return env[k] }

	tests := []struct {
		in   string
		want string
	}{
		{"-v $HOME/.ssh:/root/.ssh", "-v /home/dev/.ssh:/root/.ssh"},
		{"--user=${USER_ID}:${USER_ID}", "--user=1000:1000"},
		{"$UNDEFINED_VAR-x", "-x"},
		{`\$HOME`, "$HOME"},
		{"cost $", "cost $"},
		{"${UNCLOSED", "${UNCLOSED"},
		{"a$HOME.b", "a/home/dev.b"},
	}
	for _, tt := range tests {
		if got := Expand(tt.in, lookup); got != tt.want {
			t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExpandEnvUsesProcessEnvironment(t *testing.T) {
	t.Setenv("AVOCADO_TEST_DIR", "/data")
	if got := ExpandEnv("-v ${AVOCADO_TEST_DIR}:/data"); got != "-v /data:/data" {
		t.Fatalf("got %q", got)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "''"},
		{"https://github.com/avocado/ext.git", "https://github.com/avocado/ext.git"},
		{"feature branch", "'feature branch'"},
		{"it's", `'it'"'"'s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
