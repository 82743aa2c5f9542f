package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestLocatorValidate(t *testing.T) {
	testCases := []struct {
		locator string
		valid   bool
	}{
		{"alice@example.com", true},
		{"bob_@books.example.jp", true},
		{"abcd@localhost", true},
		{"fifteen_chars__@example.com", true},
		{"", false},
		{"alice", false},
		{"alice@", false},
		{"@example.com", false},
		{"al@example.com", false},                  // local id too short
		{"sixteen_chars___x@example.com", false},   // local id too long
		{"alice1@example.com", false},              // digits not allowed
		{"alice@exa mple.com", false},              // space in host
		{"alice@example.com@example.com", false},   // two separators
		{"alice@-bad.example.com", false},          // label starts with hyphen
	}

	for _, tc := range testCases {
		err := Locator(tc.locator).Validate()
		if tc.valid {
			assert.NoError(t, err, "locator %q", tc.locator)
		} else {
			assert.Error(t, err, "locator %q", tc.locator)
		}
	}
}

func TestLocatorLocalID(t *testing.T) {
	require.Equal(t, "alice", Locator("alice@example.com").LocalID())
}

func TestISBNValidate(t *testing.T) {
	require.NoError(t, ISBN("9784873114675").Validate())

	for _, bad := range []string{
		"",
		"4873114675",        // 10 digits
		"978-4873114675",    // hyphenated
		"97848731146750",    // 14 digits
		"978487311467a",     // non-digit
		" 9784873114675",    // leading space
	} {
		assert.Error(t, ISBN(bad).Validate(), "isbn %q", bad)
	}
}

func TestISBNValidateRapid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		digits := rapid.StringOfN(rapid.RuneFrom([]rune("0123456789")), 1, 30, -1).Draw(t, "digits").(string)
		err := ISBN(digits).Validate()
		if len(digits) == 13 {
			if err != nil {
				t.Fatalf("13-digit string %q rejected: %v", digits, err)
			}
		} else if err == nil {
			t.Fatalf("%d-digit string %q accepted", len(digits), digits)
		}
	})
}

func TestIsUUID(t *testing.T) {
	require.True(t, IsUUID("f81d4fae-7dec-11d0-a765-00a0c91e6bf6"))
	require.False(t, IsUUID("f81d4fae7dec11d0a76500a0c91e6bf6")) // no hyphens
	require.False(t, IsUUID("not-a-uuid"))
	require.False(t, IsUUID(""))
}

func TestRoomPurposeValidate(t *testing.T) {
	require.NoError(t, RoomPurposeRental.Validate())
	require.NoError(t, RoomPurposeReturn.Validate())
	require.Error(t, RoomPurpose("swap").Validate())
	require.Error(t, RoomPurpose("").Validate())
}
