package common

// AuthorizationHeaderName carries the bearer token identifying the requesting user.
const AuthorizationHeaderName = "Authorization"

// GuestUser is the identity assigned to requests without a valid token.
const GuestUser = "Guest"

// NoDoctype is used as the owner-type path fragment when a File is not attached to any document.
const NoDoctype = "No Doctype"

// RetrievePath and SharePath are the public endpoints files are brokered
// through. BlobPath serves locally stored blobs for signed link tokens.
const (
	RetrievePath = "/retrieve"
	SharePath    = "/share"
	BlobPath     = "/blob"
)
