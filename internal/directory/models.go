package directory

// User is a directory identity.
type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	MailNickname      string `json:"mailNickname,omitempty"`
	JobTitle          string `json:"jobTitle,omitempty"`
	Department        string `json:"department,omitempty"`
	AccountEnabled    bool   `json:"accountEnabled"`
	UsageLocation     string `json:"usageLocation,omitempty"`
}

// PasswordProfile carries the initial credential for a new identity.
type PasswordProfile struct {
	Password                      string `json:"password"`
	ForceChangePasswordNextSignIn bool   `json:"forceChangePasswordNextSignIn"`
}

// CreateUserRequest is the payload for provisioning a new identity.
type CreateUserRequest struct {
	AccountEnabled    bool            `json:"accountEnabled"`
	DisplayName       string          `json:"displayName"`
	UserPrincipalName string          `json:"userPrincipalName"`
	MailNickname      string          `json:"mailNickname"`
	JobTitle          string          `json:"jobTitle,omitempty"`
	Department        string          `json:"department,omitempty"`
	PasswordProfile   PasswordProfile `json:"passwordProfile"`
}

// SubscribedSKU is one license pool as reported by the tenant.
type SubscribedSKU struct {
	SKUID         string `json:"skuId"`
	SKUPartNumber string `json:"skuPartNumber"`
	ConsumedUnits int    `json:"consumedUnits"`
	PrepaidUnits  struct {
		Enabled int `json:"enabled"`
	} `json:"prepaidUnits"`
}

type skuList struct {
	Value []SubscribedSKU `json:"value"`
}

type assignedLicense struct {
	SKUID string `json:"skuId"`
}

type assignLicenseRequest struct {
	AddLicenses    []assignedLicense `json:"addLicenses"`
	RemoveLicenses []string          `json:"removeLicenses"`
}
