package hubspot

// Form is a remote form definition as returned by the forms v2 API.
type Form struct {
	GUID                    string           `json:"guid,omitempty"`
	Name                    string           `json:"name"`
	PortalID                int64            `json:"portalId,omitempty"`
	FormFieldGroups         []FieldGroup     `json:"formFieldGroups"`
	SelectedExternalOptions []ExternalOption `json:"selectedExternalOptions,omitempty"`
}

// FieldGroup is one row of form fields.
type FieldGroup struct {
	Fields []Field `json:"fields"`
}

// Field is a form field bound to a contact property.
type Field struct {
	Name            string   `json:"name"`
	Label           string   `json:"label"`
	Type            string   `json:"type"`
	FieldType       string   `json:"fieldType"`
	Options         []Option `json:"options,omitempty"`
	SelectedOptions []string `json:"selectedOptions,omitempty"`
}

// Option is a choice of an enumeration property or field.
type Option struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ExternalOption sets a value owned by another object type, such as a
// pipeline stage that must be applied to both contacts and companies.
type ExternalOption struct {
	ReferenceType string `json:"referenceType"`
	ObjectTypeID  string `json:"objectTypeId"`
	PropertyName  string `json:"propertyName"`
	ID            string `json:"id"`
}

// PropertyGroup is a display group of contact properties.
type PropertyGroup struct {
	Name        string     `json:"name"`
	DisplayName string     `json:"displayName"`
	Properties  []Property `json:"properties"`
}

// Property is a contact property definition.
type Property struct {
	Name          string   `json:"name"`
	Label         string   `json:"label"`
	GroupName     string   `json:"groupName"`
	Type          string   `json:"type"`
	FieldType     string   `json:"fieldType"`
	ReadOnlyValue bool     `json:"readOnlyValue"`
	Hidden        bool     `json:"hidden"`
	Options       []Option `json:"options"`
}

// Owner is a CRM user that contacts can be assigned to.
type Owner struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Contact is the minimal contact view used to probe connectivity.
type Contact struct {
	VID int64 `json:"vid"`
}

// Submission is the payload posted to the form submission endpoint.
type Submission struct {
	Fields  []SubmissionField `json:"fields"`
	Context SubmissionContext `json:"context"`
}

// SubmissionField is one name/value pair of a submission.
type SubmissionField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SubmissionContext describes where the submission came from.
type SubmissionContext struct {
	PageURI   string `json:"pageUri"`
	PageName  string `json:"pageName"`
	Hutk      string `json:"hutk,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
}

// SubmitResult is the success body of a submission.
type SubmitResult struct {
	InlineMessage string `json:"inlineMessage"`
	RedirectURI   string `json:"redirectUri"`
}
