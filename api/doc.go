/*
Package api defines the HTTP surface of the provisioning registry: route
patterns, request/response shapes and the error type handlers use to map
failures onto status codes.

The registry exposes two surfaces:

1. Management: enrollment CRUD under /api/enrollments/..., optionally gated
by a service SAS token minted with a shared-access policy key.

2. Device: POST /api/register/{registrationId}, authenticated with the
credentials the matching enrollment prescribes (a SAS token signed with the
enrollment's symmetric key, or a TLS client certificate for x509
enrollments).

The concrete handler lives in api/registryhandler together with a typed
management client. Device-side registration is performed by the deviceclient
package.
*/
package api
