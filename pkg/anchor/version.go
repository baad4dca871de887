package anchor

// Version is the SDK version reported in the User-Agent header.
const Version = "1.0.2"

// sdkName identifies this SDK to the service.
const sdkName = "anchor-go"
